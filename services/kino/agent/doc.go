// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent holds the domain types shared by every stage of a Kino turn:
// the routed Intent, the structured QueryFilter extracted from an utterance,
// conversation Turns, and the error taxonomy the orchestrator maps to replies.
//
// The package has no dependencies on the reasoning providers so that the
// scorer, composer and orchestrator can share types without import cycles.
//
// Thread Safety:
//
//	All types in this package are immutable values once constructed.
package agent
