package memory

import (
	"context"
	"sort"
	"strings"

	"qms/transaction-service/internal/models"
	"qms/transaction-service/internal/store"

	"github.com/google/uuid"
)

var _ store.ServerAdmin = (*Store)(nil)

// Server writes swap in fresh catalog maps so that views taken earlier keep
// reading a consistent snapshot.

func (s *Store) ListServers(ctx context.Context, departmentID string) ([]models.ServerDetail, error) {
	st := s.view()
	out := []models.ServerDetail{}
	for _, server := range st.servers {
		if departmentID != "" && server.DepartmentID != departmentID {
			continue
		}
		out = append(out, st.serverDetail(server))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetServer(ctx context.Context, serverID string) (models.ServerDetail, error) {
	st := s.view()
	server, ok := st.servers[serverID]
	if !ok {
		return models.ServerDetail{}, store.ErrServerNotFound
	}
	return st.serverDetail(server), nil
}

func (s *Store) CreateServer(ctx context.Context, server models.Server, services []models.ServerService) (models.ServerDetail, error) {
	if err := ctx.Err(); err != nil {
		return models.ServerDetail{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.state.getDepartment(server.DepartmentID); err != nil {
		return models.ServerDetail{}, err
	}
	if err := s.state.checkServices(services); err != nil {
		return models.ServerDetail{}, err
	}
	if server.ServerID == "" {
		server.ServerID = uuid.NewString()
	}
	server.Name = strings.TrimSpace(server.Name)

	servers := s.state.copyServers()
	servers[server.ServerID] = server
	s.state.servers = servers
	s.state.pairings = s.state.replacePairings(server.ServerID, services)
	return s.state.serverDetail(server), nil
}

func (s *Store) RenameServer(ctx context.Context, serverID, name string) (models.ServerDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.state.servers[serverID]
	if !ok {
		return models.ServerDetail{}, store.ErrServerNotFound
	}
	server.Name = strings.TrimSpace(name)
	servers := s.state.copyServers()
	servers[serverID] = server
	s.state.servers = servers
	return s.state.serverDetail(server), nil
}

func (s *Store) DeleteServer(ctx context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.servers[serverID]; !ok {
		return store.ErrServerNotFound
	}
	servers := s.state.copyServers()
	delete(servers, serverID)
	s.state.servers = servers
	s.state.pairings = s.state.replacePairings(serverID, nil)
	return nil
}

func (s *Store) SyncServerServices(ctx context.Context, serverID string, services []models.ServerService) (models.ServerDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	server, ok := s.state.servers[serverID]
	if !ok {
		return models.ServerDetail{}, store.ErrServerNotFound
	}
	if err := s.state.checkServices(services); err != nil {
		return models.ServerDetail{}, err
	}
	s.state.pairings = s.state.replacePairings(serverID, services)
	return s.state.serverDetail(server), nil
}

func (st state) checkServices(services []models.ServerService) error {
	for _, pairing := range services {
		if _, err := st.getService(pairing.ServiceID); err != nil {
			return err
		}
	}
	return nil
}

func (st state) copyServers() map[string]models.Server {
	out := make(map[string]models.Server, len(st.servers)+1)
	for k, v := range st.servers {
		out[k] = v
	}
	return out
}

// replacePairings returns a new pairing slice where serverID offers exactly
// services. A service listed twice keeps its last duration.
func (st state) replacePairings(serverID string, services []models.ServerService) []models.ServerService {
	out := make([]models.ServerService, 0, len(st.pairings)+len(services))
	for _, pairing := range st.pairings {
		if pairing.ServerID != serverID {
			out = append(out, pairing)
		}
	}
	index := map[string]int{}
	for _, pairing := range services {
		pairing.ServerID = serverID
		if i, ok := index[pairing.ServiceID]; ok {
			out[i] = pairing
			continue
		}
		index[pairing.ServiceID] = len(out)
		out = append(out, pairing)
	}
	return out
}

func (st state) serverDetail(server models.Server) models.ServerDetail {
	detail := models.ServerDetail{Server: server, Services: []models.ServerService{}}
	for _, pairing := range st.pairings {
		if pairing.ServerID == server.ServerID {
			detail.Services = append(detail.Services, pairing)
		}
	}
	sort.Slice(detail.Services, func(i, j int) bool { return detail.Services[i].ServiceID < detail.Services[j].ServiceID })
	return detail
}
