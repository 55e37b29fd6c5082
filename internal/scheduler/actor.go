package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/pollux-gateway/pollux/internal/store"
)

// defaultCooldown is used when an upstream 429 carries no parseable
// retry instant.
const defaultCooldown = 60 * time.Second

// RefreshMargin is the safety window before expiry within which
// Acquire's caller eagerly refreshes the lease's access token rather
// than issuing an upstream call that will just bounce with a 401.
const RefreshMargin = 5 * time.Minute

// RefreshFunc performs one OAuth refresh attempt for a credential and
// reports the outcome. Implementations classify auth failures as
// *refresher.PermanentError so the Scheduler can disable instead of
// re-queueing; any other error is treated as transient.
type RefreshFunc func(ctx context.Context, snap Snapshot) (accessToken string, expiresAt time.Time, err error)

// Scheduler is the single-threaded owner of one provider's Queue Set
// and cooldown heap. All mutable state below is touched only by the
// goroutine running Run; every other method just sends a message on
// mailbox and is safe to call concurrently.
type Scheduler struct {
	provider store.Provider
	store    *store.Store
	refresh  RefreshFunc
	isBig    func(model string) bool
	log      *slog.Logger

	mailbox chan func()
	done    chan struct{}

	// state, touched only inside the Run goroutine
	bigQueue   *fifoSet
	tinyQueue  *fifoSet
	cooldown   *cooldownSet
	creds      map[string]*store.Credential
	refreshing map[string]struct{}
}

// New constructs a Scheduler for one provider. Call LoadFromStore then
// Run in its own goroutine before serving requests.
func New(provider store.Provider, st *store.Store, refresh RefreshFunc, isBig func(string) bool, log *slog.Logger) *Scheduler {
	return &Scheduler{
		provider:   provider,
		store:      st,
		refresh:    refresh,
		isBig:      isBig,
		log:        log,
		mailbox:    make(chan func(), 256),
		done:       make(chan struct{}),
		bigQueue:   newFIFOSet(),
		tinyQueue:  newFIFOSet(),
		cooldown:   newCooldownSet(),
		creds:      make(map[string]*store.Credential),
		refreshing: make(map[string]struct{}),
	}
}

// LoadFromStore rebuilds the in-memory queues from the Credential
// Store's load_all_enabled operation. Must be called before Run.
func (s *Scheduler) LoadFromStore() error {
	rows, err := s.store.LoadAllEnabled()
	if err != nil {
		return err
	}
	for i := range rows {
		c := rows[i]
		if c.Provider != s.provider {
			continue
		}
		s.creds[c.ID] = &c
		s.bigQueue.push(c.ID)
		s.tinyQueue.push(c.ID)
	}
	s.log.Info("scheduler loaded credentials from store", "provider", s.provider, "count", len(s.creds))
	return nil
}

// Run processes messages serially until ctx is cancelled. It owns the
// cooldown timer: a single *time.Timer re-armed to the heap minimum on
// every state change, disarmed when the heap empties.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	armed := false

	rearm := func() {
		if armed {
			timer.Stop()
			armed = false
		}
		if at, ok := s.cooldown.nextReadyAt(); ok {
			d := time.Until(at)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			armed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.mailbox:
			fn()
			rearm()
		case <-timer.C:
			armed = false
			s.timerTick()
			rearm()
		}
	}
}

// Stop waits for Run's goroutine to exit after ctx is cancelled.
func (s *Scheduler) Stop() { <-s.done }

// send enqueues fn onto the mailbox and blocks until it has run,
// giving callers a synchronous call against the single-threaded actor
// without exposing any lock.
func (s *Scheduler) send(fn func()) {
	done := make(chan struct{})
	s.mailbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// cast enqueues fn without waiting; used for reports that don't need
// a reply, the cast-style counterpart to the ReportX messages.
func (s *Scheduler) cast(fn func()) {
	s.mailbox <- fn
}

// Acquire pops the head of the requested queue, removing the
// credential from the sibling queue too, and returns a Lease. If both
// queues are empty it returns NoCredential. Acquire never blocks on I/O.
func (s *Scheduler) Acquire(tag QueueTag) (*Lease, error) {
	var lease *Lease
	var noCred bool
	s.send(func() {
		q := s.queueFor(tag)
		id, ok := q.pop()
		if !ok {
			noCred = true
			return
		}
		s.sibling(tag).remove(id)
		c := s.creds[id]
		lease = &Lease{Snapshot: snapshotOf(c), tag: tag}
	})
	if noCred {
		return nil, NoCredential{}
	}
	return lease, nil
}

// EnsureFresh synchronously refreshes lease's access token if it is
// absent or within RefreshMargin of expiry, updating the lease, the
// in-memory credential, and the store before returning. Callers must
// not issue the upstream request until this returns nil.
func (s *Scheduler) EnsureFresh(ctx context.Context, lease *Lease) error {
	cred := store.Credential{AccessToken: lease.AccessToken, AccessTokenExpiresAt: lease.AccessTokenExpiresAt}
	if !cred.NeedsRefresh(time.Now(), RefreshMargin) {
		return nil
	}
	token, exp, err := s.refresh(ctx, lease.Snapshot)
	if err != nil {
		return err
	}
	lease.AccessToken = token
	lease.AccessTokenExpiresAt = exp
	id := lease.ID
	s.cast(func() {
		if c, ok := s.creds[id]; ok {
			c.AccessToken = token
			c.AccessTokenExpiresAt = exp
		}
	})
	if dbErr := s.store.SetToken(id, token, exp); dbErr != nil {
		s.log.Warn("persist eagerly refreshed token failed", "id", id, "err", dbErr)
	}
	return nil
}

// ReportRefreshFailure applies the disable-or-requeue decision for an
// eager EnsureFresh refresh that failed before the lease was ever used
// against upstream. The lease is abandoned; the caller must Acquire a
// fresh one to retry.
func (s *Scheduler) ReportRefreshFailure(lease *Lease, err error) {
	if lease.reported {
		return
	}
	lease.reported = true
	id := lease.ID
	s.cast(func() {
		s.disableOrRequeue(id, err)
	})
}

func (s *Scheduler) queueFor(tag QueueTag) *fifoSet {
	if tag == QueueBig {
		return s.bigQueue
	}
	return s.tinyQueue
}

func (s *Scheduler) sibling(tag QueueTag) *fifoSet {
	if tag == QueueBig {
		return s.tinyQueue
	}
	return s.bigQueue
}

// enqueueBoth is a set-insert into both queues, deduped by credential
// identity, the fix for the duplicate queue-entry bug class.
func (s *Scheduler) enqueueBoth(id string) {
	s.bigQueue.push(id)
	s.tinyQueue.push(id)
}

// ReportSuccess re-enqueues the credential at the tail of both queues.
func (s *Scheduler) ReportSuccess(lease *Lease) {
	if lease.reported {
		return
	}
	lease.reported = true
	id := lease.ID
	s.cast(func() {
		if _, ok := s.creds[id]; !ok {
			return
		}
		s.enqueueBoth(id)
	})
}

// ReportRateLimited parks the credential in the cooldown heap until
// retryAfter elapses, using defaultCooldown if retryAfter is zero.
func (s *Scheduler) ReportRateLimited(lease *Lease, retryAfter time.Duration) {
	if lease.reported {
		return
	}
	lease.reported = true
	if retryAfter <= 0 {
		retryAfter = defaultCooldown
	}
	id, tag := lease.ID, lease.tag
	s.cast(func() {
		if _, ok := s.creds[id]; !ok {
			return
		}
		s.cooldown.push(id, time.Now().Add(retryAfter), tag)
	})
}

// ReportInvalid dispatches a refresh; on success the credential is
// persisted and re-enqueued, on auth failure it is disabled, on
// transient failure it is re-enqueued unchanged.
func (s *Scheduler) ReportInvalid(lease *Lease) {
	if lease.reported {
		return
	}
	lease.reported = true
	id := lease.ID
	s.cast(func() {
		s.startRefresh(id)
	})
}

// ReportTransportFailure re-enqueues at tail; the credential is
// presumed valid and the upstream/network is at fault.
func (s *Scheduler) ReportTransportFailure(lease *Lease) {
	if lease.reported {
		return
	}
	lease.reported = true
	id := lease.ID
	s.cast(func() {
		if _, ok := s.creds[id]; !ok {
			return
		}
		s.enqueueBoth(id)
	})
}

// ReportBanned removes a credential entirely from every runtime set
// and disables it in the store. Distinct from ReportInvalid: the
// upstream has signalled the credential is permanently unusable, so no
// refresh is attempted.
func (s *Scheduler) ReportBanned(credentialID string) {
	s.cast(func() {
		s.bigQueue.remove(credentialID)
		s.tinyQueue.remove(credentialID)
		s.cooldown.remove(credentialID)
		delete(s.refreshing, credentialID)
		delete(s.creds, credentialID)
		if err := s.store.SetStatus(credentialID, store.StatusDisabled, "banned by upstream"); err != nil {
			s.log.Warn("failed to persist banned credential", "id", credentialID, "err", err)
		}
	})
}

// Ingest refreshes a freshly-submitted credential immediately, upserts
// it, and enqueues it on success.
func (s *Scheduler) Ingest(c store.Credential) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		snap := snapshotOf(&c)
		token, exp, err := s.refresh(ctx, snap)
		if err != nil {
			s.log.Warn("ingest refresh failed; credential disabled", "provider", c.Provider, "identity", c.Identity, "err", err)
			c.Status = store.StatusDisabled
			c.LastError = err.Error()
			_ = s.store.Upsert(&c)
			return
		}
		c.AccessToken = token
		c.AccessTokenExpiresAt = exp
		c.Status = store.StatusEnabled
		c.LastError = ""
		if err := s.store.Upsert(&c); err != nil {
			s.log.Error("ingest upsert failed", "provider", c.Provider, "identity", c.Identity, "err", err)
			return
		}
		s.cast(func() {
			s.bigQueue.remove(c.ID)
			s.tinyQueue.remove(c.ID)
			cp := c
			s.creds[c.ID] = &cp
			s.enqueueBoth(c.ID)
		})
		s.log.Info("credential ingested and activated", "provider", c.Provider, "identity", c.Identity, "id", c.ID)
	}()
}

// startRefresh is called on the actor goroutine. It removes the
// credential from every queue and the cooldown heap (upgrading a
// cooling-down credential straight to refresh, per the 401-while-
// cooling-down race), then dispatches a detached refresh.
func (s *Scheduler) startRefresh(id string) {
	s.bigQueue.remove(id)
	s.tinyQueue.remove(id)
	s.cooldown.remove(id)
	if _, already := s.refreshing[id]; already {
		return
	}
	c, ok := s.creds[id]
	if !ok {
		return
	}
	s.refreshing[id] = struct{}{}
	cred := *c
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		token, exp, err := s.refresh(ctx, snapshotOf(&cred))
		s.cast(func() {
			s.finishRefresh(id, token, exp, err)
		})
	}()
}

func (s *Scheduler) finishRefresh(id, token string, exp time.Time, err error) {
	if _, ok := s.refreshing[id]; !ok {
		return
	}
	delete(s.refreshing, id)
	c, ok := s.creds[id]
	if !ok {
		return
	}
	if err == nil {
		c.AccessToken = token
		c.AccessTokenExpiresAt = exp
		c.LastError = ""
		if dbErr := s.store.SetToken(id, token, exp); dbErr != nil {
			s.log.Warn("persist refreshed token failed", "id", id, "err", dbErr)
		}
		s.enqueueBoth(id)
		return
	}
	s.disableOrRequeue(id, err)
}

// disableOrRequeue is the shared tail of a failed refresh, whether
// dispatched by startRefresh or run eagerly by EnsureFresh: permanent
// auth failures disable the credential, anything else re-queues it
// unchanged for another attempt later.
func (s *Scheduler) disableOrRequeue(id string, err error) {
	c, ok := s.creds[id]
	if !ok {
		return
	}
	if isPermanent(err) {
		s.log.Error("credential refresh permanently failed; disabling", "id", id, "provider", c.Provider, "err", err)
		delete(s.creds, id)
		s.bigQueue.remove(id)
		s.tinyQueue.remove(id)
		if dbErr := s.store.SetStatus(id, store.StatusDisabled, err.Error()); dbErr != nil {
			s.log.Warn("persist disabled status failed", "id", id, "err", dbErr)
		}
		return
	}
	s.log.Warn("credential refresh transiently failed; re-queueing", "id", id, "provider", c.Provider, "err", err)
	s.enqueueBoth(id)
}

// timerTick drains every cooldown entry whose readyAt has passed and
// re-enqueues each into both queues, same as any other re-entry.
func (s *Scheduler) timerTick() {
	for _, e := range s.cooldown.drainDue(time.Now()) {
		if _, ok := s.creds[e.credentialID]; !ok {
			continue
		}
		s.enqueueBoth(e.credentialID)
		s.log.Debug("cooldown complete; requeued", "id", e.credentialID, "tag", e.tag)
	}
}

// QueueTagFor selects the big or tiny queue for a requested model name.
func (s *Scheduler) QueueTagFor(model string) QueueTag {
	if s.isBig(model) {
		return QueueBig
	}
	return QueueTiny
}

// Stats is a debugging/monitoring snapshot of queue and cooldown sizes.
type Stats struct {
	BigQueueLen   int
	TinyQueueLen  int
	CooldownLen   int
	RefreshingLen int
	TotalCreds    int
}

// Snapshot returns a point-in-time view of scheduler state for
// dashboards and tests.
func (s *Scheduler) Snapshot() Stats {
	var st Stats
	s.send(func() {
		st = Stats{
			BigQueueLen:   s.bigQueue.len(),
			TinyQueueLen:  s.tinyQueue.len(),
			CooldownLen:   s.cooldown.len(),
			RefreshingLen: len(s.refreshing),
			TotalCreds:    len(s.creds),
		}
	})
	return st
}
