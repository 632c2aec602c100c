package handler

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"

	"pizzeria-bot/internal/usecase"
)

// DialogueRunner is the per-message pipeline behind the webhook.
type DialogueRunner interface {
	Handle(ctx context.Context, in usecase.HandleInput) usecase.HandleOutput
}

// Pusher delivers replies out-of-band through the messaging gateway. When a
// Pusher is wired, the webhook acknowledges with an empty envelope instead of
// carrying the reply inline.
type Pusher interface {
	SendReply(ctx context.Context, to, body string) error
}

// twimlEnvelope is the channel-native acknowledgment document.
type twimlEnvelope struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// Handler terminates the inbound webhook. The same core serves two
// transports: API Gateway proxy events when deployed as a Lambda, and plain
// net/http for the local server.
type Handler struct {
	dialogue DialogueRunner
	push     Pusher
	log      *slog.Logger
}

// NewHandler wires the webhook. push may be nil, selecting the synchronous
// reply mode.
func NewHandler(dialogue DialogueRunner, push Pusher, logger *slog.Logger) (*Handler, error) {
	if dialogue == nil {
		return nil, errors.New("handler: dialogue runner must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dialogue: dialogue, push: push, log: logger}, nil
}

// RegisterRoutes mounts the webhook on the given router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/bot", h.ServeHTTP)
}

// Handle serves the webhook behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return textResponse(http.StatusBadRequest, "invalid body encoding"), nil
		}
		body = string(decoded)
	}

	form, err := url.ParseQuery(body)
	if err != nil {
		return textResponse(http.StatusBadRequest, "invalid form body"), nil
	}

	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		return textResponse(http.StatusBadRequest, "missing sender"), nil
	}

	doc := h.respond(ctx, from, form.Get("Body"))
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "application/xml"},
		Body:       doc,
	}, nil
}

// ServeHTTP serves the webhook for the local HTTP mode.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	from := strings.TrimSpace(r.PostFormValue("From"))
	if from == "" {
		http.Error(w, "missing sender", http.StatusBadRequest)
		return
	}

	doc := h.respond(r.Context(), from, r.PostFormValue("Body"))
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, doc); err != nil {
		h.log.Error("failed to write webhook response", "err", err)
	}
}

// respond runs the pipeline and renders the acknowledgment envelope. With a
// pusher configured the reply goes out through the gateway and the envelope
// stays empty; push failures are logged, never surfaced to the channel.
func (h *Handler) respond(ctx context.Context, from, body string) string {
	out := h.dialogue.Handle(ctx, usecase.HandleInput{From: from, Body: body})

	if h.push != nil {
		if err := h.push.SendReply(ctx, from, out.Reply); err != nil {
			h.log.Error("outbound push failed", "to", from, "err", err)
		}
		return renderTwiML(twimlEnvelope{})
	}
	return renderTwiML(twimlEnvelope{Message: out.Reply})
}

func renderTwiML(env twimlEnvelope) string {
	doc, err := xml.Marshal(env)
	if err != nil {
		return xml.Header + "<Response></Response>"
	}
	return xml.Header + string(doc)
}

func textResponse(status int, msg string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain"},
		Body:       msg,
	}
}
