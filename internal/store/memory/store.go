// Package memory is an in-process implementation of the store contracts.
// Units of work run one at a time against a cloned state that replaces the
// live state only when the work succeeds.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/seed"
	"qms/transaction-service/internal/store"
)

type sequenceKey struct {
	departmentID string
	day          models.BusinessDay
}

type state struct {
	departments  map[string]models.Department
	services     map[string]models.Service
	servers      map[string]models.Server
	pairings     []models.ServerService
	flows        map[string]models.Flow
	users        map[string]models.User
	sessions     map[string]store.Session
	transactions map[string]models.Transaction
	steps        map[string]models.StepInstance
	queues       map[string]models.Queue
	queueOrder   []string
	sequences    map[sequenceKey]int64
	events       map[string][]store.QueueEvent
}

func newState() state {
	return state{
		departments:  map[string]models.Department{},
		services:     map[string]models.Service{},
		servers:      map[string]models.Server{},
		flows:        map[string]models.Flow{},
		users:        map[string]models.User{},
		sessions:     map[string]store.Session{},
		transactions: map[string]models.Transaction{},
		steps:        map[string]models.StepInstance{},
		queues:       map[string]models.Queue{},
		sequences:    map[sequenceKey]int64{},
		events:       map[string][]store.QueueEvent{},
	}
}

// clone copies the mutable ledger tables. Catalog maps are shared: server
// administration replaces them instead of writing in place.
func (s state) clone() state {
	out := s
	out.transactions = make(map[string]models.Transaction, len(s.transactions))
	for k, v := range s.transactions {
		out.transactions[k] = v
	}
	out.steps = make(map[string]models.StepInstance, len(s.steps))
	for k, v := range s.steps {
		out.steps[k] = v
	}
	out.queues = make(map[string]models.Queue, len(s.queues))
	for k, v := range s.queues {
		out.queues[k] = v
	}
	out.queueOrder = append([]string(nil), s.queueOrder...)
	out.sequences = make(map[sequenceKey]int64, len(s.sequences))
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	out.events = make(map[string][]store.QueueEvent, len(s.events))
	for k, v := range s.events {
		out.events[k] = append([]store.QueueEvent(nil), v...)
	}
	return out
}

type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

func New() *Store {
	return &Store{state: newState(), nowFn: time.Now}
}

// SetClock replaces the clock used for session expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

// FromSeed builds a store preloaded with the seed's catalog, flows and users.
func FromSeed(data seed.Data) *Store {
	s := New()
	for _, dept := range data.ModelDepartments() {
		s.state.departments[dept.DepartmentID] = dept
	}
	for _, svc := range data.ModelServices() {
		s.state.services[svc.ServiceID] = svc
	}
	servers, pairings := data.ModelServers()
	for _, server := range servers {
		s.state.servers[server.ServerID] = server
	}
	s.state.pairings = pairings
	for _, flow := range data.ModelFlows() {
		s.state.flows[flow.FlowID] = flow
	}
	for _, user := range data.ModelUsers() {
		s.state.users[user.UserID] = user
	}
	now := s.nowFn()
	for _, session := range data.Sessions {
		expires := time.Time{}
		if session.ExpiresIn > 0 {
			expires = now.Add(session.ExpiresIn)
		}
		s.state.sessions[session.ID] = store.Session{SessionID: session.ID, UserID: session.UserID, ExpiresAt: expires}
	}
	return s
}

// The Add* helpers load catalog and identity data; call them before the
// store is shared between goroutines.

func (s *Store) AddDepartment(dept models.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.departments[dept.DepartmentID] = dept
}

func (s *Store) AddService(svc models.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.services[svc.ServiceID] = svc
}

func (s *Store) AddServer(server models.Server, pairings ...models.ServerService) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.servers[server.ServerID] = server
	for _, pairing := range pairings {
		pairing.ServerID = server.ServerID
		s.state.pairings = append(s.state.pairings, pairing)
	}
}

func (s *Store) AddFlow(flow models.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.flows[flow.FlowID] = flow
}

func (s *Store) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.Role = models.NormalizeRole(user.Role)
	s.state.users[user.UserID] = user
}

func (s *Store) AddSession(session store.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.sessions[session.SessionID] = session
}

// Counts reports how many transactions and queue entries are stored.
func (s *Store) Counts() (transactions, queues int) {
	st := s.view()
	return len(st.transactions), len(st.queues)
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Store) view() state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	return s.view().getDepartment(departmentID)
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	return s.view().getService(serviceID)
}

func (s *Store) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	return s.view().getFlow(flowID)
}

func (s *Store) AverageDurations(ctx context.Context, departmentID, serviceID string) ([]time.Duration, error) {
	st := s.view()
	var out []time.Duration
	for _, pairing := range st.pairings {
		if pairing.ServiceID != serviceID {
			continue
		}
		server, ok := st.servers[pairing.ServerID]
		if !ok || server.DepartmentID != departmentID {
			continue
		}
		out = append(out, pairing.AverageDuration)
	}
	return out, nil
}

func (s *Store) ListDepartments(ctx context.Context) ([]models.Department, error) {
	st := s.view()
	out := make([]models.Department, 0, len(st.departments))
	for _, dept := range st.departments {
		out = append(out, dept)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListDepartmentServices(ctx context.Context, departmentID string) ([]models.Service, error) {
	st := s.view()
	seen := map[string]bool{}
	var out []models.Service
	for _, pairing := range st.pairings {
		server, ok := st.servers[pairing.ServerID]
		if !ok || server.DepartmentID != departmentID || seen[pairing.ServiceID] {
			continue
		}
		svc, ok := st.services[pairing.ServiceID]
		if !ok {
			continue
		}
		seen[pairing.ServiceID] = true
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return s.view().getQueue(queueID)
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (models.Transaction, error) {
	return s.view().getTransaction(transactionID)
}

func (s *Store) CountActiveAhead(ctx context.Context, queue models.Queue) (int, error) {
	st := s.view()
	count := 0
	for _, id := range st.queueOrder {
		q := st.queues[id]
		if q.DepartmentID != queue.DepartmentID || q.ServiceID != queue.ServiceID || q.BusinessDay != queue.BusinessDay {
			continue
		}
		if q.CreatedAt.After(queue.CreatedAt) || !models.IsActiveQueueStatus(q.Status) {
			continue
		}
		count++
	}
	return count, nil
}

func (s *Store) ListUserQueues(ctx context.Context, userID string, day models.BusinessDay, statuses []string) ([]models.Queue, error) {
	st := s.view()
	var out []models.Queue
	for _, id := range st.queueOrder {
		q := st.queues[id]
		if q.UserID != userID || q.BusinessDay != day {
			continue
		}
		if len(statuses) > 0 && !contains(statuses, q.Status) {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *Store) ListUserFlowTransactions(ctx context.Context, userID string, day models.BusinessDay) ([]models.Transaction, error) {
	st := s.view()
	var out []models.Transaction
	for _, txn := range st.transactions {
		if txn.UserID != userID || txn.FlowID == "" || txn.BusinessDay != day {
			continue
		}
		txn.Steps = st.stepsFor(txn.TransactionID)
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CountOpenQueues(ctx context.Context, departmentID string, day models.BusinessDay) (int, error) {
	st := s.view()
	count := 0
	for _, q := range st.queues {
		if q.DepartmentID == departmentID && q.BusinessDay == day && q.Status != models.QueueStatusServed {
			count++
		}
	}
	return count, nil
}

func (s *Store) ListQueueEvents(ctx context.Context, queueID string) ([]store.QueueEvent, error) {
	st := s.view()
	if _, ok := st.queues[queueID]; !ok {
		return nil, store.ErrQueueNotFound
	}
	return append([]store.QueueEvent(nil), st.events[queueID]...), nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	st := s.view()
	session, ok := st.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	if !session.ExpiresAt.IsZero() && s.nowFn().After(session.ExpiresAt) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (models.User, error) {
	user, ok := s.view().users[userID]
	if !ok {
		return models.User{}, store.ErrUserNotFound
	}
	return user, nil
}

func (st state) getDepartment(id string) (models.Department, error) {
	dept, ok := st.departments[id]
	if !ok {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	return dept, nil
}

func (st state) getService(id string) (models.Service, error) {
	svc, ok := st.services[id]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return svc, nil
}

func (st state) getFlow(id string) (models.Flow, error) {
	flow, ok := st.flows[id]
	if !ok {
		return models.Flow{}, store.ErrFlowNotFound
	}
	flow.Steps = flow.OrderedSteps()
	return flow, nil
}

func (st state) getQueue(id string) (models.Queue, error) {
	q, ok := st.queues[id]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return q, nil
}

func (st state) getTransaction(id string) (models.Transaction, error) {
	txn, ok := st.transactions[id]
	if !ok {
		return models.Transaction{}, store.ErrTransactionNotFound
	}
	txn.Steps = st.stepsFor(id)
	return txn, nil
}

func (st state) stepsFor(transactionID string) []models.StepInstance {
	var steps []models.StepInstance
	for _, step := range st.steps {
		if step.TransactionID == transactionID {
			steps = append(steps, step)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })
	return steps
}

func contains(values []string, value string) bool {
	for _, item := range values {
		if item == value {
			return true
		}
	}
	return false
}
