package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"codereview/internal/config"
	"codereview/internal/domain"
	"codereview/internal/engine/auth"
	"codereview/internal/entitlement"
	"codereview/internal/metrics"
	"codereview/internal/payments/razorpay"
	"codereview/internal/providers"
	"codereview/internal/repo"
	"codereview/internal/review"
)

var tracer = otel.Tracer("codereview/engine")

// OrderCreator opens payment orders at the provider.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (domain.PaymentOrder, error)
}

type Engine struct {
	Store   repo.Store
	Config  *config.Config
	Secrets config.Secrets

	// Generator and Orders are built from Secrets on first use when nil.
	Generator providers.Generator
	Orders    OrderCreator
	Verifier  entitlement.ProofVerifier

	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func New(store repo.Store, cfg *config.Config, secrets config.Secrets) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:   store,
		Config:  cfg,
		Secrets: secrets,
		Now:     time.Now,
		NewID:   uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) generator() (providers.Generator, error) {
	if e.Generator != nil {
		return e.Generator, nil
	}
	if e.Secrets.GeminiAPIKey == "" {
		return nil, ConfigError{Key: config.EnvGeminiKey}
	}
	m := e.config().Model
	return providers.NewGemini(providers.GeminiOptions{
		APIKey:  e.Secrets.GeminiAPIKey,
		Model:   m.Name,
		BaseURL: m.BaseURL,
		Timeout: m.Timeout,
	})
}

func (e Engine) orders() (OrderCreator, error) {
	if e.Orders != nil {
		return e.Orders, nil
	}
	if !e.Secrets.HasRazorpay() {
		return nil, ConfigError{Key: config.EnvRazorpayKeyID, Message: "Razorpay keys not configured"}
	}
	return razorpay.NewClient(e.Secrets.RazorpayKeyID, e.Secrets.RazorpayKeySecret, e.config().Payments.APIBase)
}

func (e Engine) extractor() review.Extractor {
	return review.Extractor{Repair: e.config().Extract.Repair}
}

// Gate returns the entitlement gate priced from config.
func (e Engine) Gate() entitlement.Gate {
	cfg := e.config()
	verifier := e.Verifier
	if verifier == nil {
		if cfg.Payments.VerifySignature {
			verifier = entitlement.SignatureVerifier{Secret: e.Secrets.RazorpayKeySecret}
		} else {
			verifier = entitlement.ClientCallback{}
		}
	}
	return entitlement.Gate{
		Store:    e.Store,
		Verifier: verifier,
		Amount:   cfg.Pricing.Amount,
		Currency: cfg.Pricing.Currency,
		Now:      e.Now,
		NewID:    e.NewID,
		Logger:   e.logger(),
	}
}

// SubmitInput describes a new code sample.
type SubmitInput struct {
	ActorID     string
	Title       string
	Description string
	Code        string
}

// SubmitTask stores a pending task owned by the actor.
func (e Engine) SubmitTask(ctx context.Context, in SubmitInput) (domain.Task, error) {
	if in.ActorID == "" {
		return domain.Task{}, auth.ErrUnauthenticated
	}
	if err := validateInput(in.Title, in.Description, in.Code); err != nil {
		return domain.Task{}, err
	}
	ts := domain.FormatTime(e.now())
	t := domain.Task{
		ID:          e.newID(),
		UserID:      in.ActorID,
		Title:       in.Title,
		Description: in.Description,
		Code:        in.Code,
		Status:      domain.TaskStatusPending,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := e.Store.CreateTask(ctx, t); err != nil {
		return domain.Task{}, &PersistenceError{Op: "create task", Err: err}
	}
	return t, nil
}

// GetTask returns the actor's task.
func (e Engine) GetTask(ctx context.Context, actorID, taskID string) (domain.Task, error) {
	return auth.LoadOwned(ctx, e.Store, actorID, taskID, "task.get")
}

// ListTasks lists the actor's tasks newest first. UserID in f is replaced
// by the actor.
func (e Engine) ListTasks(ctx context.Context, actorID string, f repo.TaskFilters) ([]domain.Task, error) {
	if actorID == "" {
		return nil, auth.ErrUnauthenticated
	}
	f.UserID = actorID
	return e.Store.ListTasks(ctx, f)
}

// ListReports lists the actor's evaluated, unlocked tasks newest first.
func (e Engine) ListReports(ctx context.Context, actorID string, f repo.TaskFilters) ([]domain.Task, error) {
	unlocked := true
	f.Status = domain.TaskStatusEvaluated
	f.Unlocked = &unlocked
	return e.ListTasks(ctx, actorID, f)
}

// TaskEvents lists the audit events of one of the actor's tasks.
func (e Engine) TaskEvents(ctx context.Context, actorID, taskID string, limit int, cursor int64) ([]domain.Event, error) {
	if _, err := auth.LoadOwned(ctx, e.Store, actorID, taskID, "task.events"); err != nil {
		return nil, err
	}
	return e.Store.ListEvents(ctx, repo.EventFilters{EntityID: taskID, Limit: limit, Cursor: cursor})
}

// EvaluateInput is a stateless review request.
type EvaluateInput struct {
	Title       string
	Description string
	Code        string
}

// EvaluateDraft reviews code without touching storage.
func (e Engine) EvaluateDraft(ctx context.Context, in EvaluateInput) (review.Review, error) {
	rev, _, err := e.review(ctx, in)
	metrics.Evaluations.WithLabelValues(evaluationOutcome(err)).Inc()
	return rev, err
}

// Evaluate reviews a stored task and persists the result. On any failure
// the task is left as it was.
func (e Engine) Evaluate(ctx context.Context, actorID, taskID string) (domain.Task, error) {
	t, err := e.evaluate(ctx, actorID, taskID)
	metrics.Evaluations.WithLabelValues(evaluationOutcome(err)).Inc()
	return t, err
}

func (e Engine) evaluate(ctx context.Context, actorID, taskID string) (domain.Task, error) {
	t, err := auth.LoadOwned(ctx, e.Store, actorID, taskID, "task.evaluate")
	if err != nil {
		return domain.Task{}, err
	}
	rev, out, err := e.review(ctx, EvaluateInput{Title: t.Title, Description: t.Description, Code: t.Code})
	if err != nil {
		return domain.Task{}, err
	}
	strengths, err := json.Marshal(rev.Strengths())
	if err != nil {
		return domain.Task{}, err
	}
	improvements, err := json.Marshal(rev.Improvements())
	if err != nil {
		return domain.Task{}, err
	}
	err = e.Store.SaveEvaluation(ctx, repo.EvaluationUpdate{
		TaskID:       t.ID,
		UserID:       actorID,
		Score:        rev.Score(),
		Strengths:    string(strengths),
		Improvements: string(improvements),
		Strategy:     string(out.Strategy),
		UpdatedAt:    domain.FormatTime(e.now()),
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, auth.ForbiddenError{Action: "task.evaluate", TaskID: taskID}
	}
	if err != nil {
		e.logger().Error("failed to store evaluation", "task_id", taskID, "error", err)
		return domain.Task{}, &PersistenceError{Op: "save evaluation", Err: err}
	}
	return e.Store.GetTask(ctx, t.ID)
}

// review runs prompt, model call, extraction and validation once.
func (e Engine) review(ctx context.Context, in EvaluateInput) (review.Review, review.ParseOutcome, error) {
	if err := validateInput(in.Title, in.Description, in.Code); err != nil {
		return review.Review{}, review.ParseOutcome{}, err
	}
	gen, err := e.generator()
	if err != nil {
		return review.Review{}, review.ParseOutcome{}, err
	}
	cfg := e.config()
	log := e.logger().With("provider", gen.Name())

	ctx, span := tracer.Start(ctx, "engine.review")
	defer span.End()
	span.SetAttributes(attribute.String("provider", gen.Name()))

	start := time.Now()
	resp, err := gen.Generate(ctx, providers.Request{
		Prompt:      review.BuildPrompt(in.Title, in.Description, in.Code),
		Temperature: cfg.Model.Temperature,
		JSONMode:    cfg.Model.JSONMode,
	})
	metrics.ModelLatency.WithLabelValues(gen.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate")
		log.Error("model call failed", "error", err)
		return review.Review{}, review.ParseOutcome{}, &ProviderError{Provider: gen.Name(), Op: "generate", Err: err}
	}
	if resp.TokensUsed > 0 {
		metrics.ModelTokens.WithLabelValues(gen.Name()).Add(float64(resp.TokensUsed))
	}

	rev, out, err := e.extractor().ExtractReview(resp.Text)
	var malformed *review.MalformedOutputError
	var shape *review.ShapeError
	switch {
	case errors.As(err, &malformed):
		log.Error("model JSON parse failed", "raw", malformed.Raw, "direct_error", malformed.DirectErr, "fallback_error", malformed.FallbackErr)
	case errors.As(err, &shape):
		log.Error("model JSON shape invalid", "reason", shape.Reason, "payload", shape.PayloadJSON(), "strategy", out.Strategy)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extract")
		return review.Review{}, out, err
	}
	span.SetAttributes(attribute.String("strategy", string(out.Strategy)))
	metrics.ExtractionStrategy.WithLabelValues(string(out.Strategy)).Inc()
	return rev, out, nil
}

func validateInput(title, description, code string) error {
	if title == "" || description == "" || code == "" {
		return ValidationError{Field: missingField(title, description, code), Message: "Missing title, description, or code"}
	}
	return nil
}

func missingField(title, description, code string) string {
	switch {
	case title == "":
		return "title"
	case description == "":
		return "description"
	default:
		return "code"
	}
}

func evaluationOutcome(err error) string {
	var (
		validation ValidationError
		cfgErr     ConfigError
		provider   *ProviderError
		malformed  *review.MalformedOutputError
		shape      *review.ShapeError
		persist    *PersistenceError
		forbidden  auth.ForbiddenError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "invalid_input"
	case errors.As(err, &cfgErr):
		return "config_missing"
	case errors.As(err, &provider):
		return "provider_error"
	case errors.As(err, &malformed):
		return "malformed_output"
	case errors.As(err, &shape):
		return "invalid_shape"
	case errors.As(err, &persist):
		return "persistence_error"
	case errors.As(err, &forbidden), errors.Is(err, auth.ErrUnauthenticated):
		return "forbidden"
	default:
		return "error"
	}
}

// CreateOrder opens a provider order for unlocking the task's report at the
// configured price.
func (e Engine) CreateOrder(ctx context.Context, actorID, taskID string) (domain.PaymentOrder, error) {
	if taskID == "" {
		return domain.PaymentOrder{}, ValidationError{Field: "taskId", Message: "taskId missing"}
	}
	t, err := auth.LoadOwned(ctx, e.Store, actorID, taskID, "order.create")
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	if entitlement.StateOf(t) == entitlement.StateUnlocked {
		return domain.PaymentOrder{}, ErrAlreadyUnlocked
	}
	client, err := e.orders()
	if err != nil {
		return domain.PaymentOrder{}, err
	}
	pricing := e.config().Pricing
	order, err := client.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   pricing.Amount,
		Currency: pricing.Currency,
		Receipt:  razorpay.Receipt(t.ID, e.now()),
	})
	if err != nil {
		e.logger().Error("order creation failed", "task_id", taskID, "error", err)
		return domain.PaymentOrder{}, &ProviderError{Provider: "razorpay", Op: "create_order", Err: err}
	}
	metrics.OrdersCreated.Inc()
	e.logger().Info("payment order created", "task_id", taskID, "order_id", order.ID)
	return order, nil
}

// UnlockInput is the checkout callback payload.
type UnlockInput struct {
	TaskID    string
	UserID    string
	OrderID   string
	PaymentID string
	Signature string
}

// Unlock records a reported payment and unlocks the report. UserID must be
// the authenticated actor.
func (e Engine) Unlock(ctx context.Context, actorID string, in UnlockInput) (entitlement.Outcome, error) {
	if in.TaskID == "" || in.UserID == "" {
		return "", ValidationError{Field: "taskId", Message: "Missing taskId or userId"}
	}
	if actorID == "" {
		return "", auth.ErrUnauthenticated
	}
	if in.UserID != actorID {
		return "", auth.ForbiddenError{Action: "unlock", TaskID: in.TaskID}
	}
	if e.Verifier == nil && e.config().Payments.VerifySignature && e.Secrets.RazorpayKeySecret == "" {
		return "", ConfigError{Key: config.EnvRazorpayKeySecret}
	}
	outcome, err := e.Gate().Unlock(ctx, actorID, in.TaskID, entitlement.PaymentProof{
		OrderID:   in.OrderID,
		PaymentID: in.PaymentID,
		Signature: in.Signature,
	})
	if err != nil {
		var forbidden auth.ForbiddenError
		var rejected *entitlement.RejectedError
		if errors.As(err, &forbidden) || errors.As(err, &rejected) || errors.Is(err, auth.ErrUnauthenticated) {
			return "", err
		}
		return "", &PersistenceError{Op: "unlock report", Err: err}
	}
	return outcome, nil
}

// ReportSection is one category of improvements with code blocks split out.
type ReportSection struct {
	Category review.Category     `json:"category"`
	Title    string              `json:"title"`
	Items    []review.FencedItem `json:"items"`
}

// Report is the gated view of a task. Strengths and Sections are nil
// while the report is locked.
type Report struct {
	Task      domain.TaskSummary `json:"task"`
	Evaluated bool               `json:"evaluated"`
	State     entitlement.State  `json:"state"`
	Score     *float64           `json:"score,omitempty"`
	Strengths []string           `json:"strengths,omitempty"`
	Sections  []ReportSection    `json:"sections,omitempty"`
	Price     Price              `json:"price"`
}

// Price is the unlock price shown next to a locked report.
type Price struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	DisplayName string `json:"display_name"`
}

// Report builds the actor's view of a task's review.
func (e Engine) Report(ctx context.Context, actorID, taskID string) (Report, error) {
	t, err := auth.LoadOwned(ctx, e.Store, actorID, taskID, "report.view")
	if err != nil {
		return Report{}, err
	}
	pricing := e.config().Pricing
	rep := Report{
		Task:  t.Summary(),
		State: entitlement.StateOf(t),
		Price: Price{Amount: pricing.Amount, Currency: pricing.Currency, DisplayName: pricing.DisplayName},
	}
	ev, ok := t.Evaluation()
	if !ok {
		return rep, nil
	}
	rep.Evaluated = true
	score := ev.Score
	rep.Score = &score
	if rep.State != entitlement.StateUnlocked {
		return rep, nil
	}
	rep.Strengths = ev.Strengths
	rep.Sections = Sections(ev.Improvements)
	return rep, nil
}

// Sections groups improvements by category in display order, skipping empty
// categories.
func Sections(improvements []string) []ReportSection {
	buckets := review.Classify(improvements)
	out := []ReportSection{}
	for _, c := range review.Categories {
		items := buckets.Get(c)
		if len(items) == 0 {
			continue
		}
		sec := ReportSection{Category: c, Title: c.Title(), Items: make([]review.FencedItem, 0, len(items))}
		for _, item := range items {
			sec.Items = append(sec.Items, review.SplitCodeFence(item))
		}
		out = append(out, sec)
	}
	return out
}

// CreateAPIKey mints a key for the actor. The plaintext is returned once
// and only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", auth.ErrUnauthenticated
	}
	secret := "crv_" + uuid.NewString()
	key := domain.APIKey{
		ID:        e.newID(),
		UserID:    actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: domain.FormatTime(e.now()),
	}
	if err := e.Store.InsertAPIKey(ctx, key); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("store api key: %w", err)
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	if actorID == "" {
		return nil, auth.ErrUnauthenticated
	}
	return e.Store.ListAPIKeys(ctx, actorID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, actorID, id string) error {
	if actorID == "" {
		return auth.ErrUnauthenticated
	}
	return e.Store.DeleteAPIKey(ctx, actorID, id)
}
