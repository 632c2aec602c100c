package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"pizzeria-bot/internal/domain"
	"pizzeria-bot/internal/repository"
)

// Fixed user-facing replies. The channel audience is Brazilian, so these ship
// in Portuguese like the behavior prompt they accompany.
const (
	replyReset    = "Memória apagada! Começando do zero."
	replyApology  = "Desculpe, tivemos um erro interno."
	replyFallback = "Desculpe, estou com instabilidade agora. Pode repetir?"
)

const (
	defaultResetCommand = "/reset"
	defaultMaxReplyLen  = 1500
	defaultTemperature  = 0.5
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, temperature float64, messages []domain.ChatMessage) (string, error)
}

// SessionStore is the per-key transcript the dialogue runs against. Append
// returns the full updated history; Clear is idempotent.
type SessionStore interface {
	Append(ctx context.Context, key string, msg domain.ChatMessage) ([]domain.ChatMessage, error)
	Clear(ctx context.Context, key string) error
}

// OrderWriter records one confirmed order. Implementations report — never
// hide — failure; the controller alone decides what failure means for the
// session.
type OrderWriter interface {
	Save(ctx context.Context, order domain.Order, sessionKey string, ts time.Time) error
}

// DialogueConfig carries the tunables of the dialogue pipeline.
type DialogueConfig struct {
	// ParamPrefix locates the opaque behavior prompt and model id in the
	// parameter store.
	ParamPrefix string
	// Temperature for every completion call. Zero means the default (0.5).
	Temperature float64
	// ResetCommand wipes the session when received verbatim (case-insensitive,
	// trimmed). Empty means "/reset".
	ResetCommand string
	// MaxReplyLen truncates outbound text to the channel's message-size
	// limit, counted in runes. Zero means 1500.
	MaxReplyLen int
	// ConfirmationTokens override the default affirmative lexicon.
	ConfirmationTokens []string
}

// DialogueService orchestrates one inbound message end to end: session
// append, prompt assembly, completion, order extraction, persistence, reply.
// Component failures are swallowed here, once and visibly, so that every
// inbound message resolves to a deliverable reply.
type DialogueService struct {
	params   ParamGetter
	llm      LLMClient
	sessions SessionStore
	orders   OrderWriter
	cfg      DialogueConfig
	log      *slog.Logger
	now      func() time.Time

	cacheMu      sync.RWMutex
	cacheLoaded  bool
	systemPrompt string
	model        string
}

type HandleInput struct {
	// From is the opaque channel address identifying the conversation.
	From string
	// Body is the inbound message text.
	Body string
}

type HandleOutput struct {
	Reply string
}

func NewDialogueService(p ParamGetter, llm LLMClient, sessions SessionStore, orders OrderWriter, cfg DialogueConfig, logger *slog.Logger) (*DialogueService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if orders == nil {
		return nil, errors.New("usecase: order writer must not be nil")
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if cfg.ParamPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.ResetCommand == "" {
		cfg.ResetCommand = defaultResetCommand
	}
	if cfg.MaxReplyLen <= 0 {
		cfg.MaxReplyLen = defaultMaxReplyLen
	}
	if len(cfg.ConfirmationTokens) == 0 {
		cfg.ConfirmationTokens = defaultConfirmationTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DialogueService{
		params:   p,
		llm:      llm,
		sessions: sessions,
		orders:   orders,
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
	}, nil
}

// Handle runs the per-message state machine and always produces a reply.
func (s *DialogueService) Handle(ctx context.Context, in HandleInput) HandleOutput {
	body := strings.TrimSpace(in.Body)

	if strings.EqualFold(body, s.cfg.ResetCommand) {
		if err := s.sessions.Clear(ctx, in.From); err != nil {
			s.logSwallow(ErrorStore, "reset_clear_failed", in.From, err)
		}
		return HandleOutput{Reply: replyReset}
	}

	if err := s.ensureConfig(ctx); err != nil {
		s.logSwallow(ErrorConfig, "behavior_config_unavailable", in.From, err)
		return HandleOutput{Reply: replyApology}
	}

	userTurn := domain.ChatMessage{Role: domain.RoleUser, Content: body}
	history, err := s.sessions.Append(ctx, in.From, userTurn)
	if err != nil {
		// Fail open: the reply matters more than a lost turn. Proceed with
		// the lone user turn as history.
		s.logSwallow(ErrorStore, "user_turn_append_failed", in.From, err)
		history = []domain.ChatMessage{userTurn}
	}

	messages := assembleMessages(s.systemPromptCached(), history, body, s.cfg.ConfirmationTokens)

	reply, err := s.llm.Chat(ctx, s.modelCached(), s.cfg.Temperature, messages)
	if err != nil {
		// The user's turn stays persisted; the next message retries against
		// the same history.
		s.logSwallow(ErrorBackend, "completion_failed", in.From, err)
		return HandleOutput{Reply: replyApology}
	}

	if _, err := s.sessions.Append(ctx, in.From, domain.ChatMessage{Role: domain.RoleAssistant, Content: reply}); err != nil {
		s.logSwallow(ErrorStore, "assistant_turn_append_failed", in.From, err)
	}

	cleaned, order, status := extractOrder(reply)
	switch status {
	case orderFound:
		if err := s.orders.Save(ctx, order, in.From, s.now().UTC()); err != nil {
			// The order could not be recorded, so the session must survive;
			// the customer still sees the success-worded reply.
			if errors.Is(err, repository.ErrOrdersDisabled) {
				s.log.Info("order sink disabled, keeping session", "from", in.From)
			} else {
				s.logSwallow(ErrorPersist, "order_persist_failed", in.From, err)
			}
		} else if err := s.sessions.Clear(ctx, in.From); err != nil {
			s.logSwallow(ErrorStore, "post_order_clear_failed", in.From, err)
		}
	case orderMalformed:
		s.logSwallow(ErrorExtraction, "order_block_malformed", in.From, nil)
	}

	if cleaned == "" {
		cleaned = replyFallback
	}
	return HandleOutput{Reply: truncateRunes(cleaned, s.cfg.MaxReplyLen)}
}

// ensureConfig loads the behavior prompt and model id from the parameter
// store on first use and caches them for the process lifetime.
func (s *DialogueService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	prompt, err := s.params.GetParameter(ctx, s.cfg.ParamPrefix+"/system-prompt")
	if err != nil {
		return newError(ErrorConfig, "load_system_prompt", err)
	}
	model, err := s.params.GetParameter(ctx, s.cfg.ParamPrefix+"/config/model")
	if err != nil {
		return newError(ErrorConfig, "load_model", err)
	}

	s.systemPrompt = prompt
	s.model = strings.TrimSpace(model)
	s.cacheLoaded = true
	return nil
}

func (s *DialogueService) systemPromptCached() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.systemPrompt
}

func (s *DialogueService) modelCached() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.model
}

func (s *DialogueService) logSwallow(code ErrorCode, reason, from string, err error) {
	s.log.Error("dialogue error swallowed", "code", string(code), "reason", reason, "from", from, "err", err)
}

// truncateRunes cuts text to at most n runes.
func truncateRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
