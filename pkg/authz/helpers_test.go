package authz

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-signing-secret"

// recordingSink captures emitted events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *recordingSink) named(name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) count(name string) int {
	return len(s.named(name))
}

// signToken builds an HS256 credential for tests.
func signToken(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		panic(err)
	}
	return signed
}

func validClaims(subject, org string) *Claims {
	return &Claims{
		Subject:        subject,
		OrganizationID: org,
		IssuedAt:       time.Now().Add(-time.Minute),
		ExpiresAt:      time.Now().Add(time.Hour),
	}
}
