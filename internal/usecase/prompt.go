package usecase

import (
	"strings"

	"pizzeria-bot/internal/domain"
)

// finalizeDirective is the transient system turn appended when the customer
// appears to confirm the order. It exists only for the duration of one
// completion call and is never persisted to the session.
const finalizeDirective = "O cliente acabou de confirmar o pedido. Encerre o atendimento agora: " +
	"agradeça, informe o tempo de entrega e emita ao final da mensagem, exatamente uma vez, o bloco:\n" +
	orderBlockOpen + "\n" +
	`{ "pedido": "<itens do pedido>", "endereco": "<endereco completo>", "pagamento": "<forma de pagamento>", "total": "<valor total>" }` + "\n" +
	orderBlockClose

// defaultConfirmationTokens are the affirmative fragments that trigger the
// finalize directive. Matching is case-insensitive substring containment;
// any hit wins.
var defaultConfirmationTokens = []string{
	"sim",
	"pode sim",
	"ok",
	"confirmo",
	"confirmar",
	"pode mandar",
	"pode preparar",
	"fechado",
	"isso mesmo",
	"tudo certo",
}

// assembleMessages builds the ordered message sequence for one completion
// call: the opaque behavior prompt as a synthetic system turn, the full
// persisted history (which already ends with the latest user turn), and the
// finalize directive when the user text reads as a confirmation.
func assembleMessages(systemPrompt string, history []domain.ChatMessage, latestUserText string, confirmationTokens []string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	messages = append(messages, history...)

	if isConfirmation(latestUserText, confirmationTokens) {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: finalizeDirective})
	}
	return messages
}

// isConfirmation reports whether the text contains any confirmation token,
// ignoring case.
func isConfirmation(text string, tokens []string) bool {
	lowered := strings.ToLower(text)
	for _, token := range tokens {
		if token == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(token)) {
			return true
		}
	}
	return false
}
