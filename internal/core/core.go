// Package core wires the Position Model, Change Store, Validation,
// Consolidation, Clustering, Batch, Session, Query, Event Bus, and
// Resource Governor subsystems behind one external
// submit/accept/reject/query/export/subscribe/register_producer surface.
// Services are constructed once at startup and injected with one shared
// *slog.Logger, the same wiring shape a server's main package uses to
// build its service aggregate.
package core

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/writerr/changepipeline/internal/batch"
	"github.com/writerr/changepipeline/internal/change"
	"github.com/writerr/changepipeline/internal/cluster"
	"github.com/writerr/changepipeline/internal/consolidate"
	"github.com/writerr/changepipeline/internal/eventbus"
	"github.com/writerr/changepipeline/internal/governor"
	"github.com/writerr/changepipeline/internal/pipelineerr"
	"github.com/writerr/changepipeline/internal/query"
	"github.com/writerr/changepipeline/internal/session"
	"github.com/writerr/changepipeline/internal/validate"
)

// Config bundles the construction-time settings each wired subsystem
// needs, one block per subsystem.
type Config struct {
	Session           session.Config
	ValidationPolicy  validate.Policy
	ClusterConfig     cluster.Config
	BatchConfig       batch.Config
	GovernorConfig    governor.Config
	ResultCacheTTL    time.Duration
	Notifier          Notifier
}

// DefaultConfig returns sensible defaults rooted at sessionRoot on disk.
func DefaultConfig(sessionRoot string) Config {
	return Config{
		Session:          session.DefaultConfig(sessionRoot),
		ValidationPolicy: validate.DefaultPolicy(),
		ClusterConfig:    cluster.DefaultConfig(),
		BatchConfig:      batch.DefaultConfig(),
		GovernorConfig:   governor.DefaultConfig(),
		ResultCacheTTL:   30 * time.Second,
	}
}

// Core is the pipeline's single entry point; every external caller
// (internal/mcpsurface, cmd/pipelinectl) goes through it rather than
// touching subsystem packages directly.
type Core struct {
	logger *slog.Logger

	bus      *eventbus.Bus
	store    *change.Store
	consolid *consolidate.Engine
	cluster  *cluster.Engine
	batch    *batch.Manager
	sessions *session.Manager
	index    *query.Index
	cache    *query.ResultCache
	gov      *governor.Governor
	dispatch *dispatcher

	validationPolicy validate.Policy
	clusterConfig    cluster.Config
	batchConfig      batch.Config

	mu          sync.Mutex
	producers   map[string]*AuthContext
	lastReports map[string]validationFlags

	newID func() string
}

// validationFlags records the submission-time validation outcome for a
// change, since query.IndexedChange's with_validation_warnings/
// with_security_threats predicates need flags that don't live on
// change.Change itself.
type validationFlags struct {
	hasWarnings bool
	hasThreats  bool
}

// New constructs a fully wired Core.
func New(logger *slog.Logger, cfg Config) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bus := eventbus.New(logger)
	store := change.NewStore()

	sessions, err := session.New(cfg.Session, bus)
	if err != nil {
		return nil, err
	}

	idx, err := query.NewIndex()
	if err != nil {
		return nil, err
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = slogNotifier{logger: logger}
	}

	ttl := cfg.ResultCacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	c := &Core{
		logger:           logger,
		bus:              bus,
		store:            store,
		consolid:         consolidate.New(store, bus),
		cluster:          cluster.New(store, bus),
		batch:            batch.New(store, bus),
		sessions:         sessions,
		index:            idx,
		cache:            query.NewResultCache(ttl, bus),
		gov:              governor.New(cfg.GovernorConfig),
		dispatch:         newDispatcher(notifier),
		validationPolicy: cfg.ValidationPolicy,
		clusterConfig:    cfg.ClusterConfig,
		batchConfig:      cfg.BatchConfig,
		producers:        make(map[string]*AuthContext),
		lastReports:      make(map[string]validationFlags),
		newID:            uuid.NewString,
	}

	c.wireIndexMaintenance()
	c.wireOutboundDispatch()
	return c, nil
}

// wireIndexMaintenance keeps the query index in sync with every store
// mutation event, so callers never have to remember to re-index.
func (c *Core) wireIndexMaintenance() {
	upsert := func(ev eventbus.Event) error {
		id, ok := ev.Data.(string)
		if !ok {
			return nil
		}
		ch, err := c.store.Get(id)
		if err != nil {
			return nil // already gone (e.g. a superseded id cleaned up elsewhere); not index's concern
		}
		c.mu.Lock()
		flags := c.lastReports[id]
		c.mu.Unlock()
		return c.index.Upsert(query.IndexedChange{Change: ch, HasWarnings: flags.hasWarnings, HasThreats: flags.hasThreats})
	}
	c.bus.Subscribe(eventbus.TopicChangeAdmitted, upsert)
	c.bus.Subscribe(eventbus.TopicChangeAccepted, upsert)
	c.bus.Subscribe(eventbus.TopicChangeRejected, upsert)
	c.bus.Subscribe(eventbus.TopicChangeSuperseded, upsert)
}

// Submit runs inputs through validation, consolidation, clustering, and
// optional batch grouping.
func (c *Core) Submit(inputs []ChangeInput, opts SubmitOptions, auth *AuthContext) (SubmissionResult, error) {
	result := SubmissionResult{Success: true}

	sessionID := opts.SessionID
	if sessionID == "" && opts.CreateSession {
		sessionID = c.newID()
		if _, err := c.sessions.StartSession(sessionID); err != nil {
			return SubmissionResult{}, err
		}
	}
	result.SessionID = sessionID

	producerKey := "anonymous"
	var producerSource string
	if len(inputs) > 0 {
		producerSource = inputs[0].Source
	}
	if auth != nil {
		producerKey = auth.PluginID
	} else if producerSource != "" {
		producerKey = producerSource
	}

	if err := authorizeSubmission(auth, producerSource, string(opts.EditorialOperation)); err != nil {
		result.Success = false
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	decision := c.gov.Admit(producerKey)
	if !decision.Admitted {
		c.bus.Publish(eventbus.TopicThrottled, producerKey)
		c.bus.Drain()
		result.Success = false
		result.Errors = append(result.Errors, pipelineerr.New(pipelineerr.CodeRateLimitExceeded, "producer rate limit exceeded").Error())
		return result, nil
	}

	policy := c.validationPolicy
	validationMode := ValidationModeStandard
	if opts.EditorialOperation != "" {
		validationMode = ValidationModeEditorialEngine
	}

	proposals := make([]validate.Proposal, len(inputs))
	for i, in := range inputs {
		proposals[i] = validate.Proposal{
			ID:          c.newID(),
			SessionID:   sessionID,
			Type:        in.Type,
			Position:    in.Position,
			Content:     in.Content,
			Category:    in.Category,
			Source:      in.Source,
			Confidence:  in.Confidence,
			Attribution: in.Attribution,
		}
	}

	var report validate.Report
	if opts.BypassValidation {
		for _, p := range proposals {
			report.Accepted = append(report.Accepted, validate.AcceptedChange{Proposal: p})
		}
	} else {
		report = validate.Validate(proposals, policy)
	}

	for _, v := range report.Violations {
		result.Errors = append(result.Errors, v.Message)
		if v.Code == pipelineerr.CodeSensitiveDataRejected {
			c.bus.Publish(eventbus.TopicSensitiveData, v)
		}
		if v.Code == pipelineerr.CodePolicyViolation {
			c.bus.Publish(eventbus.TopicPolicyViolation, v)
		}
	}
	for _, w := range report.Warnings {
		result.Warnings = append(result.Warnings, w.Message)
	}
	c.bus.Drain()

	consolidationPolicy := consolidate.DefaultPolicy()
	if opts.ConflictResolution != nil {
		consolidationPolicy = *opts.ConflictResolution
	}

	var admitted []*change.Change
	for _, ac := range report.Accepted {
		p := ac.Proposal
		priority := 3
		for _, in := range inputs {
			if in.Source == p.Source && in.Content == p.Content {
				if in.Priority != 0 {
					priority = in.Priority
				}
				break
			}
		}

		ch := &change.Change{
			ID:                p.ID,
			SessionID:         p.SessionID,
			Type:              p.Type,
			Position:          p.Position,
			Content:           p.Content,
			Category:          p.Category,
			Source:            p.Source,
			Confidence:        p.Confidence,
			Timestamp:         time.Now(),
			Status:            change.StatusPending,
			Attribution:       p.Attribution,
			Priority:          priority,
			CompatiblePlugins: opts.CompatiblePlugins,
		}

		sub := consolidate.Submission{
			SubmissionID: opts.SubmissionID,
			Change:       ch,
			Policy:       consolidationPolicy,
			Semantic:     opts.SemanticContext,
			TimeoutMs:    opts.ConsolidationTimeoutMs,
			MaxRetries:   opts.MaxRetries,
		}

		outcome, err := c.consolid.Consolidate(sub)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if outcome.DegradedFromTimeout {
			result.Warnings = append(result.Warnings, outcome.Warnings...)
		}
		if outcome.Rejected {
			result.Errors = append(result.Errors, outcome.Reason)
			continue
		}
		if outcome.Admitted != nil {
			c.mu.Lock()
			c.lastReports[outcome.Admitted.ID] = validationFlags{
				hasWarnings: len(report.Warnings) > 0,
				hasThreats:  len(report.Redactions) > 0,
			}
			c.mu.Unlock()
			result.ChangeIDs = append(result.ChangeIDs, outcome.Admitted.ID)
			admitted = append(admitted, outcome.Admitted)
			c.cluster.Enqueue(outcome.Admitted)
		}
	}

	if opts.GroupChanges && len(admitted) > 0 {
		cfg := c.batchConfig
		if opts.GroupingConfig != nil {
			cfg = *opts.GroupingConfig
		}
		opType := opts.EditorialOperation
		if opType == "" {
			opType = batch.OperationCustom
		}
		strategy := opts.GroupingStrategy
		if strategy == "" {
			strategy = batch.GroupingProximity
		}
		group := c.batch.AutoGroup(admitted, opType, strategy, cfg)
		result.ChangeGroupID = group.GroupID
		result.GroupingResult = group
	}

	result.ValidationSummary = ValidationSummary{
		Total:                 len(inputs),
		Provider:              attributionProvider(inputs),
		Model:                 attributionModel(inputs),
		ValidationMode:        validationMode,
		SecurityChecksEnabled: !opts.BypassValidation,
	}
	result.Success = len(result.Errors) == 0
	return result, nil
}

func attributionProvider(inputs []ChangeInput) string {
	for _, in := range inputs {
		if in.Attribution != nil && in.Attribution.Provider != "" {
			return in.Attribution.Provider
		}
	}
	return ""
}

func attributionModel(inputs []ChangeInput) string {
	for _, in := range inputs {
		if in.Attribution != nil && in.Attribution.Model != "" {
			return in.Attribution.Model
		}
	}
	return ""
}

// Accept transitions a change or an entire batch group to Accepted. id is
// tried as a batch group id first, then as a change id.
func (c *Core) Accept(id, actor, reason string) (Outcome, error) {
	return c.transition(id, change.StatusAccepted, actor, reason)
}

// Reject transitions a change or an entire batch group to Rejected, the
// same way Accept does.
func (c *Core) Reject(id, actor, reason string) (Outcome, error) {
	return c.transition(id, change.StatusRejected, actor, reason)
}

func (c *Core) transition(id string, target change.Status, actor, reason string) (Outcome, error) {
	if _, ok := c.batch.Get(id); ok {
		var err error
		if target == change.StatusAccepted {
			err = c.batch.AcceptBatch(id, actor, reason)
		} else {
			err = c.batch.RejectBatch(id, actor, reason)
		}
		if err != nil {
			return Outcome{}, err
		}
		g, _ := c.batch.Get(id)
		return Outcome{Success: true, ChangeIDs: append([]string(nil), g.MemberIDs...), Status: target, At: time.Now()}, nil
	}

	_, changed, err := c.store.UpdateStatus(id, target, actor, reason)
	if err != nil {
		return Outcome{}, err
	}
	if changed {
		topic := eventbus.TopicChangeAccepted
		if target == change.StatusRejected {
			topic = eventbus.TopicChangeRejected
		}
		c.bus.Publish(topic, id)
		c.bus.Drain()
	}
	return Outcome{Success: true, ChangeIDs: []string{id}, Status: target, Unchanged: !changed, At: time.Now()}, nil
}

// Query opens a new predicate builder against the live index.
func (c *Core) Query() *query.Builder {
	return query.NewBuilder(c.index)
}

// QueryIDs executes b, serving from the result cache when possible.
func (c *Core) QueryIDs(b *query.Builder) ([]string, error) {
	fp := b.Fingerprint()
	now := time.Now()
	if ids, ok := c.cache.Get(fp, now); ok {
		return ids, nil
	}
	ids, err := b.IDs()
	if err != nil {
		return nil, err
	}
	c.cache.Put(fp, ids, now)
	return ids, nil
}

// Export resolves b's matches to full Change records and renders them in
// format.
func (c *Core) Export(b *query.Builder, format query.Format, opts query.ExportOptions) ([]byte, error) {
	ids, err := c.QueryIDs(b)
	if err != nil {
		return nil, err
	}
	changes := make([]*change.Change, 0, len(ids))
	for _, id := range ids {
		ch, err := c.store.Get(id)
		if err != nil {
			continue
		}
		changes = append(changes, ch)
	}
	return query.Export(changes, format, opts)
}

// Subscribe registers callback for topic.
func (c *Core) Subscribe(topic eventbus.Topic, callback eventbus.Callback) *eventbus.Subscription {
	return c.bus.Subscribe(topic, callback)
}

// Store exposes the underlying Change Store for callers (session
// recovery, MCP tool handlers) that need direct read access beyond the
// Query Subsystem's predicate surface.
func (c *Core) Store() *change.Store { return c.store }

// Sessions exposes the Session/State Manager.
func (c *Core) Sessions() *session.Manager { return c.sessions }

// Governor exposes the Resource Governor.
func (c *Core) Governor() *governor.Governor { return c.gov }

// EventBus exposes the Event Bus for callers needing Drain/Pending.
func (c *Core) EventBus() *eventbus.Bus { return c.bus }
