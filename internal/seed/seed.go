// Package seed reads the YAML documents that describe departments, services,
// servers, flows and known users.
package seed

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"qms/transaction-service/internal/models"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

type Data struct {
	Departments []Department `yaml:"departments"`
	Services    []Service    `yaml:"services"`
	Servers     []Server     `yaml:"servers"`
	Flows       []Flow       `yaml:"flows"`
	Users       []User       `yaml:"users"`
	Sessions    []Session    `yaml:"sessions"`
}

type Department struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
}

type Service struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type Server struct {
	ID           string          `yaml:"id"`
	DepartmentID string          `yaml:"department_id"`
	Name         string          `yaml:"name"`
	Services     []ServerService `yaml:"services"`
}

type ServerService struct {
	ServiceID       string        `yaml:"service_id"`
	AverageDuration time.Duration `yaml:"average_duration"`
}

type Flow struct {
	ID    string     `yaml:"id"`
	Name  string     `yaml:"name"`
	Steps []FlowStep `yaml:"steps"`
}

type FlowStep struct {
	ID           string `yaml:"id"`
	DepartmentID string `yaml:"department_id"`
	ServiceID    string `yaml:"service_id"`
}

type User struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	MobileNo string `yaml:"mobile_no"`
	Role     string `yaml:"role"`
}

type Session struct {
	ID        string        `yaml:"id"`
	UserID    string        `yaml:"user_id"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

func LoadFile(path string) (Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return Data{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (Data, error) {
	var data Data
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return Data{}, nil
		}
		return Data{}, fmt.Errorf("decode seed: %w", err)
	}
	data.fillIDs()
	if err := data.Validate(); err != nil {
		return Data{}, err
	}
	return data, nil
}

func (d *Data) fillIDs() {
	for i := range d.Flows {
		if d.Flows[i].ID == "" {
			d.Flows[i].ID = uuid.NewString()
		}
		for j := range d.Flows[i].Steps {
			if d.Flows[i].Steps[j].ID == "" {
				d.Flows[i].Steps[j].ID = uuid.NewString()
			}
		}
	}
}

// Validate checks that every reference points at a declared entity.
func (d Data) Validate() error {
	departments := map[string]bool{}
	for _, dept := range d.Departments {
		if strings.TrimSpace(dept.ID) == "" {
			return errors.New("seed: department id is required")
		}
		departments[dept.ID] = true
	}
	services := map[string]bool{}
	for _, svc := range d.Services {
		if strings.TrimSpace(svc.ID) == "" {
			return errors.New("seed: service id is required")
		}
		services[svc.ID] = true
	}
	for _, server := range d.Servers {
		if !departments[server.DepartmentID] {
			return fmt.Errorf("seed: server %s references unknown department %s", server.ID, server.DepartmentID)
		}
		for _, pairing := range server.Services {
			if !services[pairing.ServiceID] {
				return fmt.Errorf("seed: server %s references unknown service %s", server.ID, pairing.ServiceID)
			}
			if pairing.AverageDuration < 0 {
				return fmt.Errorf("seed: server %s has negative duration for %s", server.ID, pairing.ServiceID)
			}
		}
	}
	for _, flow := range d.Flows {
		for _, step := range flow.Steps {
			if !departments[step.DepartmentID] || !services[step.ServiceID] {
				return fmt.Errorf("seed: flow %s has a step with unknown department or service", flow.ID)
			}
		}
	}
	users := map[string]bool{}
	for _, user := range d.Users {
		if user.Role != "" && models.NormalizeRole(user.Role) != user.Role {
			return fmt.Errorf("seed: user %s has unknown role %q", user.ID, user.Role)
		}
		users[user.ID] = true
	}
	for _, session := range d.Sessions {
		if !users[session.UserID] {
			return fmt.Errorf("seed: session %s references unknown user %s", session.ID, session.UserID)
		}
	}
	return nil
}

func (d Data) ModelDepartments() []models.Department {
	out := make([]models.Department, 0, len(d.Departments))
	for _, dept := range d.Departments {
		out = append(out, models.Department{DepartmentID: dept.ID, Name: dept.Name, Prefix: dept.Prefix})
	}
	return out
}

func (d Data) ModelServices() []models.Service {
	out := make([]models.Service, 0, len(d.Services))
	for _, svc := range d.Services {
		out = append(out, models.Service{ServiceID: svc.ID, Name: svc.Name})
	}
	return out
}

func (d Data) ModelServers() ([]models.Server, []models.ServerService) {
	servers := make([]models.Server, 0, len(d.Servers))
	var pairings []models.ServerService
	for _, server := range d.Servers {
		servers = append(servers, models.Server{ServerID: server.ID, DepartmentID: server.DepartmentID, Name: server.Name})
		for _, pairing := range server.Services {
			pairings = append(pairings, models.ServerService{
				ServerID:        server.ID,
				ServiceID:       pairing.ServiceID,
				AverageDuration: pairing.AverageDuration,
			})
		}
	}
	return servers, pairings
}

// ModelFlows numbers steps by their order in the document, starting at 1.
func (d Data) ModelFlows() []models.Flow {
	out := make([]models.Flow, 0, len(d.Flows))
	for _, flow := range d.Flows {
		item := models.Flow{FlowID: flow.ID, Name: flow.Name}
		for i, step := range flow.Steps {
			item.Steps = append(item.Steps, models.FlowStep{
				FlowStepID:   step.ID,
				FlowID:       flow.ID,
				Position:     i + 1,
				DepartmentID: step.DepartmentID,
				ServiceID:    step.ServiceID,
			})
		}
		out = append(out, item)
	}
	return out
}

func (d Data) ModelUsers() []models.User {
	out := make([]models.User, 0, len(d.Users))
	for _, user := range d.Users {
		out = append(out, models.User{
			UserID:   user.ID,
			Name:     user.Name,
			MobileNo: user.MobileNo,
			Role:     models.NormalizeRole(user.Role),
		})
	}
	return out
}
