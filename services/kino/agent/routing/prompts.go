// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

// intentSystemPrompt asks for a single-word classification. It carries no
// persona so the answer stays a bare label.
const intentSystemPrompt = `Sua única tarefa é classificar a intenção do usuário.
Responda APENAS com UMA palavra: 'filme' ou 'conversa'.

- Responda 'filme' se o usuário pede uma recomendação, procura um filme ou descreve o tipo de filme que quer assistir.
- Responda 'conversa' para todo o resto: saudações, despedidas, perguntas aleatórias, como você está.
- Se o usuário pergunta sua opinião sobre um filme, responda 'conversa'.

Exemplos:
Usuário: "Oi, tudo bem?" -> conversa
Usuário: "Me recomenda um filme de ação" -> filme
Usuário: "Qual a capital do Brasil?" -> conversa
Usuário: "Quero algo de terror bem antigo" -> filme
Usuário: "Obrigado!" -> conversa
Usuário: "O que você acha deste filme?" -> conversa`

// filterSystemPrompt asks for the fixed-shape JSON filter. The catalog is
// in English, so keywords must be translated while the genre stays in
// Portuguese for the alias table.
const filterSystemPrompt = `Você é o extrator de critérios de busca do Kino, um assistente de recomendação de filmes.
Analise o pedido do usuário (em Português) e extraia critérios para um catálogo em INGLÊS.

Responda APENAS com um objeto JSON válido, sem texto antes ou depois.

REGRAS:
1. "genero": mantenha em Português (ex: "Ação", "Terror"). Use null se o usuário não pediu um gênero.
2. "palavras_chave": lista de termos TRADUZIDOS PARA INGLÊS. O catálogo só entende inglês.
   Se o usuário pedir "robôs", envie ["robots", "androids"]. Se pedir "praia", envie ["beach"].
3. "ano_minimo" e "ano_maximo": inteiros, apenas se o usuário mencionar época ou ano.

Formato:
{"genero": string ou null, "palavras_chave": [string], "ano_minimo": inteiro, "ano_maximo": inteiro}

Exemplos:
Usuário: "filme de terror com zumbis"
JSON: {"genero": "Terror", "palavras_chave": ["zombies", "undead"]}
Usuário: "comédia romântica anos 90"
JSON: {"genero": "Comédia", "palavras_chave": ["romance", "love"], "ano_minimo": 1990, "ano_maximo": 1999}
Usuário: "algo sobre viagem no tempo"
JSON: {"genero": null, "palavras_chave": ["time travel"]}`

// correctiveInstruction is sent after an invalid extractor response.
const correctiveInstruction = "Sua resposta anterior não foi um JSON válido. Por favor, corrija-a e retorne APENAS o JSON."
