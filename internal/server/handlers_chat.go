package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const chatTopK = 3

const chatCitationRuneLimit = 200

type chatSource struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// chatAsk answers a single free-text question from the knowledge base.
// Each call is independent; no conversation state is kept server-side.
func (a *App) chatAsk(c *gin.Context) {
	if _, ok := authUserFromContext(c); !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var payload chatAskRequest
	if !mustJSON(c, &payload) {
		return
	}
	question := strings.TrimSpace(payload.Question)
	if question == "" {
		writeError(c, http.StatusBadRequest, "question is required")
		return
	}

	passages, err := a.retrieval.Retrieve(c.Request.Context(), question, chatTopK)
	if err != nil {
		log.Printf("knowledge retrieval failed: %v", err)
		writeError(c, http.StatusBadGateway, "Knowledge retrieval failed")
		return
	}
	if len(passages) == 0 {
		writeError(c, http.StatusNotFound, "No relevant knowledge found for this question")
		return
	}

	answer, err := a.ai.Generate(c.Request.Context(), buildChatPrompt(question, passages))
	if err != nil {
		log.Printf("chat answer generation failed: %v", err)
		writeError(c, http.StatusBadGateway, "Answer generation failed")
		return
	}

	sources := buildChatSources(passages)
	c.JSON(http.StatusOK, gin.H{
		"answer":  appendCitations(answer, sources),
		"sources": sources,
	})
}

// buildChatPrompt embeds the retrieved passages as an enumerated context
// block and pins the answering rules: context only, Korean, light
// markdown, disclaim instead of guessing.
func buildChatPrompt(question string, passages []Passage) string {
	contextLines := make([]string, 0, len(passages))
	for idx, passage := range passages {
		contextLines = append(contextLines, fmt.Sprintf("[%d] %s", idx+1, passage.Text))
	}

	return strings.TrimSpace(fmt.Sprintf(`
당신은 물 섭취와 수분 관리에 대한 전문 도우미입니다. 아래 제공된 지식 기반 문서를 참고하여 사용자의 질문에 답변해주세요.

지식 기반 문서:
%s

사용자 질문: %s

답변 시 다음 사항을 지켜주세요:
1. 제공된 지식 기반 문서의 내용을 기반으로 답변하세요.
2. 한국어로 자연스럽고 친절하게 답변하세요.
3. 필요한 경우 마크다운 형식을 사용하여 구조화하세요 (목록, 강조 등).
4. 불확실한 내용은 추측하지 말고 "제공된 정보로는 정확히 알 수 없습니다"라고 표현하세요.
5. 답변은 간결하고 실용적으로 작성하세요.

답변:`,
		strings.Join(contextLines, "\n\n"),
		question,
	))
}

func buildChatSources(passages []Passage) []chatSource {
	sources := make([]chatSource, 0, len(passages))
	for _, passage := range passages {
		sources = append(sources, chatSource{
			ID:    passage.ID,
			Text:  truncateRunes(passage.Text, chatCitationRuneLimit),
			Score: passage.Score,
		})
	}
	return sources
}

func appendCitations(answer string, sources []chatSource) string {
	lines := make([]string, 0, len(sources))
	for idx, source := range sources {
		lines = append(lines, fmt.Sprintf("- [%d] %s", idx+1, source.Text))
	}
	return strings.TrimSpace(answer) + "\n\n---\n\n**출처:**\n" + strings.Join(lines, "\n")
}

// truncateRunes cuts on rune boundaries; citation text is mostly Korean
// and a byte cut would split characters.
func truncateRunes(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "..."
}
