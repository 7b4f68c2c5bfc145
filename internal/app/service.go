package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"revertd/api/internal/auth"
	"revertd/api/internal/config"
	"revertd/api/internal/email"
	"revertd/api/internal/gitrepo"
	"revertd/api/internal/rbac"
	"revertd/api/internal/revert"
	"revertd/api/internal/search"
	"revertd/api/internal/session"
	"revertd/api/internal/store"
	"revertd/api/internal/util"
)

// MaxBatchSize bounds the number of requests in one batch call.
const MaxBatchSize = 50

type Session struct {
	Operator  string
	Role      string
	JTI       string
	ExpiresAt time.Time
}

// Platform is the wiki or document store whose pages are reverted.
type Platform interface {
	FetchHistory(ctx context.Context, page string, limit int) (revert.History, error)
	ApplyRevert(ctx context.Context, req revert.EditRequest) (revert.EditResult, error)
	Notify(ctx context.Context, contributor, page, notice string) error
	SubmitReview(ctx context.Context, page string, revisionID int64, comment string) error
}

// pageEditor is implemented by platforms that accept ordinary edits
// through this service.
type pageEditor interface {
	SavePage(ctx context.Context, page, content, author, summary string) (gitrepo.CommitInfo, error)
}

type confirmationStore interface {
	Save(context.Context, session.Confirmation, time.Duration) error
	Peek(context.Context, string) (session.Confirmation, error)
	Take(context.Context, string) (session.Confirmation, error)
	Ping(context.Context) error
}

type logStore interface {
	InsertRevertLog(context.Context, store.RevertLogEntry) (store.RevertLogEntry, error)
	ListRevertLog(context.Context, store.RevertLogFilter) ([]store.RevertLogEntry, error)
	Ping(ctx context.Context) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexRevert(search.RevertRecord)
}

// Alerter mails executed reverts to patrol leads.
type Alerter interface {
	SendRevertAlert(to []string, alert email.RevertAlert) error
}

type Service struct {
	cfg           config.Config
	platform      Platform
	confirmations confirmationStore
	store         logStore
	search        searchIndex
	alerts        Alerter
	now           func() time.Time
}

func New(cfg config.Config, platform Platform, confirmations *session.RedisStore, dataStore *store.PostgresStore, searchService *search.Service) *Service {
	return &Service{
		cfg:           cfg,
		platform:      platform,
		confirmations: confirmations,
		store:         dataStore,
		search:        searchService,
		now:           time.Now,
	}
}

// WithAlerts enables email alerts for reverts whose kind is configured
// for alerting.
func (s *Service) WithAlerts(alerts Alerter) *Service {
	s.alerts = alerts
	return s
}

// RevertInput is a request to undo a contribution.
type RevertInput struct {
	Page                  string `json:"page"`
	Kind                  string `json:"kind"`
	ExpectedTopRevisionID int64  `json:"expectedTopRevisionId"`
	TriggeringAuthor      string `json:"triggeringAuthor"`
	Reason                string `json:"reason"`
	Execute               bool   `json:"execute"`
}

// RestoreInput is a request to restore an explicit older revision.
type RestoreInput struct {
	Page                  string `json:"page"`
	RevisionID            int64  `json:"revisionId"`
	ExpectedTopRevisionID int64  `json:"expectedTopRevisionId"`
	Reason                string `json:"reason"`
}

// PreviewInput asks for the summary a decision would be saved with.
type PreviewInput struct {
	Kind      string          `json:"kind"`
	Operation string          `json:"operation"`
	Reason    string          `json:"reason"`
	Decision  revert.Decision `json:"decision"`
}

// RevertResult is the outcome of a resolve, confirm or restore call. When
// Executed is set, Edit holds the backend's write result.
type RevertResult struct {
	Status            revert.Status      `json:"status"`
	Decision          *revert.Decision   `json:"decision,omitempty"`
	Abort             *revert.AbortError `json:"abort,omitempty"`
	Prompt            *revert.Prompt     `json:"prompt,omitempty"`
	ConfirmationToken string             `json:"confirmationToken,omitempty"`
	ExpiresAt         *time.Time         `json:"expiresAt,omitempty"`
	Summary           string             `json:"summary,omitempty"`
	Executed          bool               `json:"executed"`
	Edit              *revert.EditResult `json:"edit,omitempty"`
	Notified          bool               `json:"notified"`
	Reviewed          bool               `json:"reviewed"`
	LogID             int64              `json:"logId,omitempty"`
}

type BatchError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BatchItem struct {
	Index  int           `json:"index"`
	Page   string        `json:"page"`
	Result *RevertResult `json:"result,omitempty"`
	Error  *BatchError   `json:"error,omitempty"`
}

// SessionFromHeader verifies the bearer token in an Authorization header.
func (s *Service) SessionFromHeader(header string) (Session, error) {
	claims, err := auth.FromHeader([]byte(s.cfg.JWTSecret), header)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Operator:  claims.Operator,
		Role:      string(rbac.Normalize(claims.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingConfirmations(ctx context.Context) error {
	return s.confirmations.Ping(ctx)
}

func (s *Service) fetchWindow() int {
	if s.cfg.MaxRevisions > 0 {
		return s.cfg.MaxRevisions
	}
	return revert.DefaultMaxWindow
}

// Resolve fetches the page history and decides what to revert. A resolved
// decision is executed immediately when in.Execute is set; a pending one
// is parked under a confirmation token.
func (s *Service) Resolve(ctx context.Context, actor Session, in RevertInput) (RevertResult, error) {
	page := strings.TrimSpace(in.Page)
	if page == "" {
		return RevertResult{}, validationError("page is required")
	}
	kind, ok := revert.ParseKind(in.Kind)
	if !ok {
		return RevertResult{}, validationError(fmt.Sprintf("unknown revert kind %q", in.Kind))
	}
	if in.ExpectedTopRevisionID <= 0 {
		return RevertResult{}, validationError("expectedTopRevisionId is required")
	}

	hist, err := s.platform.FetchHistory(ctx, page, s.fetchWindow())
	if err != nil {
		return RevertResult{}, fmt.Errorf("fetch history of %q: %w", page, err)
	}
	outcome := revert.Resolve(revert.Request{
		Kind:                  kind,
		Page:                  page,
		ExpectedTopRevisionID: in.ExpectedTopRevisionID,
		TriggeringAuthor:      strings.TrimSpace(in.TriggeringAuthor),
		Settings:              s.cfg.RevertSettings(),
	}, hist)
	return s.settle(ctx, actor, kind, in.Reason, in.Execute, outcome)
}

// Confirm answers the prompt parked under token. Only the operator who
// started the revert may answer it, and a token is answered at most once.
func (s *Service) Confirm(ctx context.Context, actor Session, token string, accept bool) (RevertResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return RevertResult{}, validationError("token is required")
	}
	pending, err := s.confirmations.Peek(ctx, token)
	if err != nil {
		return RevertResult{}, err
	}
	if pending.Actor != actor.Operator {
		return RevertResult{}, domainError(http.StatusForbidden, "FORBIDDEN", "Confirmation belongs to another operator", nil)
	}
	pending, err = s.confirmations.Take(ctx, token)
	if err != nil {
		return RevertResult{}, err
	}

	outcome := revert.Continue(pending.Outcome(), accept)
	return s.settle(ctx, actor, pending.Continuation.Request.Kind, pending.Reason, pending.Execute, outcome)
}

func (s *Service) settle(ctx context.Context, actor Session, kind revert.Kind, reason string, execute bool, outcome revert.Outcome) (RevertResult, error) {
	result := RevertResult{Status: outcome.Status, Decision: outcome.Decision, Abort: outcome.Abort, Prompt: outcome.Prompt}

	switch outcome.Status {
	case revert.StatusAborted:
		log.Printf("revert: %s aborted for %s: %v", kind, actor.Operator, outcome.Abort)
		return result, nil

	case revert.StatusNeedsConfirmation:
		token := util.NewID("confirm")
		pending, err := session.NewConfirmation(token, actor.Operator, reason, execute, outcome)
		if err != nil {
			return RevertResult{}, err
		}
		if err := s.confirmations.Save(ctx, pending, s.cfg.ConfirmTTL); err != nil {
			return RevertResult{}, fmt.Errorf("save confirmation: %w", err)
		}
		ttl := s.cfg.ConfirmTTL
		if ttl <= 0 {
			ttl = session.DefaultTTL
		}
		expires := s.now().Add(ttl).UTC()
		result.ConfirmationToken = token
		result.ExpiresAt = &expires
		return result, nil
	}

	d := *outcome.Decision
	result.Summary = revert.FormatSummary(d, kind, reason, s.cfg.Templates())
	if !execute {
		return result, nil
	}
	if err := s.execute(ctx, actor, kind, store.OperationRevert, d, result.Summary, &result); err != nil {
		return RevertResult{}, err
	}
	return result, nil
}

// Restore replaces the page content with an explicit older revision.
// Restores always execute and never notify.
func (s *Service) Restore(ctx context.Context, actor Session, in RestoreInput) (RevertResult, error) {
	page := strings.TrimSpace(in.Page)
	if page == "" {
		return RevertResult{}, validationError("page is required")
	}
	if in.RevisionID <= 0 {
		return RevertResult{}, validationError("revisionId is required")
	}

	hist, err := s.platform.FetchHistory(ctx, page, s.fetchWindow())
	if err != nil {
		return RevertResult{}, fmt.Errorf("fetch history of %q: %w", page, err)
	}
	outcome := revert.ResolveRestore(page, in.ExpectedTopRevisionID, in.RevisionID, hist)
	result := RevertResult{Status: outcome.Status, Decision: outcome.Decision, Abort: outcome.Abort}
	if outcome.Status != revert.StatusResolved {
		log.Printf("revert: restore aborted for %s: %v", actor.Operator, outcome.Abort)
		return result, nil
	}

	d := *outcome.Decision
	result.Summary = revert.FormatRestoreSummary(d, in.Reason, s.cfg.Templates())
	if err := s.execute(ctx, actor, revert.KindNormal, store.OperationRestore, d, result.Summary, &result); err != nil {
		return RevertResult{}, err
	}
	return result, nil
}

// ResolveBatch resolves every request independently with bounded
// parallelism. A failing item never fails the batch.
func (s *Service) ResolveBatch(ctx context.Context, actor Session, items []RevertInput) ([]BatchItem, error) {
	if len(items) == 0 {
		return nil, validationError("at least one request is required")
	}
	if len(items) > MaxBatchSize {
		return nil, validationError(fmt.Sprintf("at most %d requests per batch", MaxBatchSize))
	}

	results := make([]BatchItem, len(items))
	forEachLimit(len(items), s.cfg.BatchParallel, func(i int) {
		item := BatchItem{Index: i, Page: strings.TrimSpace(items[i].Page)}
		result, err := s.Resolve(ctx, actor, items[i])
		if err != nil {
			_, code, message, _ := mapError(err)
			item.Error = &BatchError{Code: code, Message: message}
		} else {
			item.Result = &result
		}
		results[i] = item
	})
	return results, nil
}

// PreviewSummary formats the summary a decision would be saved with.
func (s *Service) PreviewSummary(in PreviewInput) (string, error) {
	kind, ok := revert.ParseKind(in.Kind)
	if !ok {
		return "", validationError(fmt.Sprintf("unknown revert kind %q", in.Kind))
	}
	switch in.Operation {
	case "", store.OperationRevert:
		return revert.FormatSummary(in.Decision, kind, in.Reason, s.cfg.Templates()), nil
	case store.OperationRestore:
		return revert.FormatRestoreSummary(in.Decision, in.Reason, s.cfg.Templates()), nil
	default:
		return "", validationError(fmt.Sprintf("unknown operation %q", in.Operation))
	}
}

// PageHistory returns the revision window the resolver would see.
func (s *Service) PageHistory(ctx context.Context, page string) (revert.History, error) {
	page = strings.TrimSpace(page)
	if page == "" {
		return revert.History{}, validationError("page is required")
	}
	hist, err := s.platform.FetchHistory(ctx, page, s.fetchWindow())
	if err != nil {
		return revert.History{}, fmt.Errorf("fetch history of %q: %w", page, err)
	}
	return hist, nil
}

// SavePage records an ordinary edit on platforms that accept them.
func (s *Service) SavePage(ctx context.Context, actor Session, page, content, summary string) (gitrepo.CommitInfo, error) {
	editor, ok := s.platform.(pageEditor)
	if !ok {
		return gitrepo.CommitInfo{}, domainError(http.StatusNotImplemented, "NOT_SUPPORTED", "This backend does not accept edits", nil)
	}
	page = strings.TrimSpace(page)
	if page == "" {
		return gitrepo.CommitInfo{}, validationError("page is required")
	}
	return editor.SavePage(ctx, page, content, actor.Operator, summary)
}

func (s *Service) ListPageReverts(ctx context.Context, page string, limit int) ([]store.RevertLogEntry, error) {
	page = strings.TrimSpace(page)
	if page == "" {
		return nil, validationError("page is required")
	}
	return s.store.ListRevertLog(ctx, store.RevertLogFilter{Page: page, Limit: limit})
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

func isConflict(err error) bool {
	return errors.Is(err, revert.ErrEditConflict)
}
