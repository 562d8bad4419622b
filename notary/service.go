package notary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"estateflow/asset"
	"estateflow/audit"
	"estateflow/auth"
	"estateflow/fault"
	"estateflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AuditWriter appends one audit trail event inside the active transaction.
type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, rec audit.Record) error
}

// OutboxWriter enqueues a message for downstream delivery.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service owns the legal finalization state machine. Cases are mutated by
// the assigned notary; admins may additionally cancel.
type Service struct {
	pool        TxBeginner
	repo        Repository
	trail       AuditWriter
	outbox      OutboxWriter
	assigner    Assigner
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, trail AuditWriter, out OutboxWriter, assigner Assigner) *Service {
	if trail == nil {
		trail = audit.NewRecorder()
	}
	if out == nil {
		out = outbox.NewWriter()
	}
	if assigner == nil {
		assigner = NewLeastLoadedAssigner()
	}
	return &Service{
		pool:        pool,
		repo:        repo,
		trail:       trail,
		outbox:      out,
		assigner:    assigner,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenForSale creates the case for an approved sale inside the caller's
// transaction. Satisfies the sale engine's CaseOpener.
func (s *Service) OpenForSale(ctx context.Context, tx pgx.Tx, saleID string, ref asset.Ref) (string, error) {
	if saleID == "" {
		return "", fmt.Errorf("notary: missing sale id: %w", fault.ErrInvalidInput)
	}

	notaryID, err := s.assigner.Assign(ctx, tx, ref)
	if err != nil {
		return "", err
	}

	created, err := s.repo.Create(ctx, tx, Case{
		ID:       s.idGenerator(),
		SaleID:   saleID,
		Asset:    ref,
		NotaryID: notaryID,
		Status:   StatusPendingNotary,
	})
	if err != nil {
		return "", err
	}

	if err := s.append(ctx, tx, created.ID, auth.Actor{}, "CASE_OPENED", map[string]any{
		"sale_id":   saleID,
		"notary_id": notaryID,
	}); err != nil {
		return "", err
	}

	return created.ID, nil
}

// SetStatus moves the case to a directly reachable status. Cancellation is
// reachable from any non-terminal state; everything else goes one step.
func (s *Service) SetStatus(ctx context.Context, id string, target Status, actor auth.Actor, notes string) (Case, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Case{}, fmt.Errorf("notary: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Case{}, err
	}

	if err := s.authorize(c, actor, target == StatusCancelled); err != nil {
		return Case{}, err
	}
	if !canTransition(c.Status, target) {
		return Case{}, fmt.Errorf("notary: %s -> %s: %w", c.Status, target, fault.ErrIllegalTransition)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, id, target)
	if err != nil {
		return Case{}, err
	}

	payload := map[string]any{
		"previous_status": string(c.Status),
		"next_status":     string(target),
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		payload["notes"] = notes
	}
	if err := s.append(ctx, tx, id, actor, "CASE_STATUS_CHANGED", payload); err != nil {
		return Case{}, err
	}

	topic := outbox.TopicCaseStatusChanged
	if target == StatusFinalized {
		topic = outbox.TopicCaseFinalized
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, map[string]any{
		"case_id": id,
		"sale_id": updated.SaleID,
		"status":  string(target),
	}); err != nil {
		return Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Case{}, fmt.Errorf("notary: commit transition: %w", err)
	}
	return updated, nil
}

// Finalize requires formalities_complete and freezes the case.
func (s *Service) Finalize(ctx context.Context, id string, actor auth.Actor) (Case, error) {
	return s.SetStatus(ctx, id, StatusFinalized, actor, "")
}

// AttachParams carries an already-uploaded document reference.
type AttachParams struct {
	Name string
	Type DocumentType
	URI  string
}

// AttachDocument appends a document to a non-terminal case. Documents are
// immutable once written; removal is a separate explicit operation.
func (s *Service) AttachDocument(ctx context.Context, id string, params AttachParams, actor auth.Actor) (Document, error) {
	if strings.TrimSpace(params.Name) == "" || strings.TrimSpace(params.URI) == "" {
		return Document{}, fmt.Errorf("notary: document name and uri required: %w", fault.ErrInvalidInput)
	}
	if !validDocumentType(params.Type) {
		return Document{}, fmt.Errorf("notary: invalid document type %q: %w", params.Type, fault.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("notary: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Document{}, err
	}
	if err := s.authorize(c, actor, false); err != nil {
		return Document{}, err
	}
	if c.Status.Terminal() {
		return Document{}, fmt.Errorf("notary: case %s is archived: %w", id, fault.ErrInvalidState)
	}

	doc, err := s.repo.InsertDocument(ctx, tx, Document{
		ID:     s.idGenerator(),
		CaseID: id,
		Name:   params.Name,
		Type:   params.Type,
		URI:    params.URI,
	})
	if err != nil {
		return Document{}, err
	}

	if err := s.append(ctx, tx, id, actor, "DOCUMENT_ATTACHED", map[string]any{
		"document_id":   doc.ID,
		"document_type": string(doc.Type),
		"name":          doc.Name,
	}); err != nil {
		return Document{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Document{}, fmt.Errorf("notary: commit attach: %w", err)
	}
	return doc, nil
}

// RemoveDocument deletes a document from a non-terminal case.
func (s *Service) RemoveDocument(ctx context.Context, id, docID string, actor auth.Actor) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notary: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(c, actor, false); err != nil {
		return err
	}
	if c.Status.Terminal() {
		return fmt.Errorf("notary: case %s is archived: %w", id, fault.ErrInvalidState)
	}

	if err := s.repo.DeleteDocument(ctx, tx, id, docID); err != nil {
		return err
	}

	if err := s.append(ctx, tx, id, actor, "DOCUMENT_REMOVED", map[string]any{
		"document_id": docID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("notary: commit remove: %w", err)
	}
	return nil
}

func (s *Service) GetCase(ctx context.Context, id string) (Case, []Document, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Case{}, nil, err
	}
	docs, err := s.repo.ListDocuments(ctx, id)
	if err != nil {
		return Case{}, nil, err
	}
	return c, docs, nil
}

func (s *Service) List(ctx context.Context, filters Filters) ([]Case, int, error) {
	return s.repo.List(ctx, filters)
}

// authorize restricts case mutation to the assigned notary; administrators
// may additionally cancel.
func (s *Service) authorize(c Case, actor auth.Actor, cancelling bool) error {
	if actor.Role == auth.RoleNotary && actor.ID == c.NotaryID {
		return nil
	}
	if cancelling && actor.Role == auth.RoleAdmin {
		return nil
	}
	return fmt.Errorf("notary: actor %s is not the assigned notary: %w", actor.ID, fault.ErrRoleDenied)
}

func (s *Service) append(ctx context.Context, tx pgx.Tx, caseID string, actor auth.Actor, eventType string, payload map[string]any) error {
	var actorID *string
	if actor.ID != "" {
		actorID = &actor.ID
	}
	return s.trail.Append(ctx, tx, audit.Record{
		EntityKind: audit.EntityNotaryCase,
		EntityID:   caseID,
		Type:       eventType,
		ActorID:    actorID,
		ActorName:  actor.Name,
		Payload:    payload,
	})
}
