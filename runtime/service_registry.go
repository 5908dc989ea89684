// Package runtime provides the service lifecycle plumbing shared by agentnet
// daemons.
package runtime

import (
	"reflect"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "registry")

// Service is a long-running component managed by a ServiceRegistry.
type Service interface {
	// Start spawns any goroutines required by the service.
	Start()
	// Stop terminates all goroutines belonging to the service, blocking
	// until they are all terminated.
	Stop() error
	// Status returns an error if the service is not considered healthy.
	Status() error
}

// ServiceRegistry manages a set of services as one unit: started in
// registration order, stopped in reverse, and queryable by concrete type so
// dependents share the same instance.
type ServiceRegistry struct {
	services map[reflect.Type]Service
	order    []reflect.Type
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{services: make(map[reflect.Type]Service)}
}

// RegisterService adds a service. Each concrete type may register once.
func (s *ServiceRegistry) RegisterService(service Service) error {
	kind := reflect.TypeOf(service)
	if _, exists := s.services[kind]; exists {
		return errors.Errorf("service already registered: %v", kind)
	}
	s.services[kind] = service
	s.order = append(s.order, kind)
	return nil
}

// StartAll launches every service in registration order.
func (s *ServiceRegistry) StartAll() {
	log.WithField("count", len(s.order)).Debug("Starting services")
	for _, kind := range s.order {
		go s.services[kind].Start()
	}
}

// StopAll stops every service in reverse registration order.
func (s *ServiceRegistry) StopAll() {
	for i := len(s.order) - 1; i >= 0; i-- {
		kind := s.order[i]
		if err := s.services[kind].Stop(); err != nil {
			log.WithError(err).Errorf("Could not stop service %v", kind)
		}
	}
}

// Statuses reports the health of every registered service.
func (s *ServiceRegistry) Statuses() map[reflect.Type]error {
	m := make(map[reflect.Type]error, len(s.order))
	for _, kind := range s.order {
		m[kind] = s.services[kind].Status()
	}
	return m
}

// FetchService sets the pointer target to the registered service of the
// pointed-to type.
func (s *ServiceRegistry) FetchService(service interface{}) error {
	if reflect.TypeOf(service).Kind() != reflect.Ptr {
		return errors.Errorf("input must be of pointer type, received value type instead: %T", service)
	}
	element := reflect.ValueOf(service).Elem()
	if running, ok := s.services[element.Type()]; ok {
		element.Set(reflect.ValueOf(running))
		return nil
	}
	return errors.Errorf("unknown service: %T", service)
}
