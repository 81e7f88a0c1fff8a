// Package session simulates one user browsing and booking on the target API.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	lghttp "github.com/doktolib/loadgen/internal/http"
	"github.com/doktolib/loadgen/internal/loadgen/metrics"
)

// Endpoint templates of the booking API.
const (
	HealthPath       = "/api/v1/health"
	DoctorsPath      = "/api/v1/doctors"
	DoctorPath       = "/api/v1/doctors/{id}"
	AppointmentsPath = "/api/v1/appointments"
)

// Action probabilities of the browsing model.
const (
	HealthCheckProbability = 0.01
	BrowseProbability      = 0.7
	DetailProbability      = 0.4
)

// Rand is the source of randomness for a simulator. *math/rand.Rand
// satisfies it. Implementations need not be safe for concurrent use; each
// worker owns its own.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Executor runs one request and records its outcome.
type Executor interface {
	Execute(ctx context.Context, req *lghttp.Request) metrics.Outcome
}

// Pacer blocks until the next request may be sent.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Doctor is a cached reference entity used to build detail and booking
// requests. The slice handed to a simulator is never modified.
type Doctor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Location  string `json:"location,omitempty"`
}

// SearchPattern is one (specialty, location) filter combination.
// Empty fields mean the filter is not sent.
type SearchPattern struct {
	Specialty string
	Location  string
}

// SearchPatterns is the fixed pool of realistic listing filters.
var SearchPatterns = []SearchPattern{
	{Specialty: "Cardiologist", Location: "New York, NY"},
	{Specialty: "General Practitioner", Location: "Los Angeles, CA"},
	{Specialty: "Dermatologist", Location: "Chicago, IL"},
	{Specialty: "Pediatrician", Location: "Houston, TX"},
	{Specialty: "", Location: "San Francisco, CA"},
	{Specialty: "Psychiatrist", Location: ""},
	{Specialty: "", Location: ""},
}

// Appointment is the booking payload sent to POST /api/v1/appointments.
type Appointment struct {
	DoctorID        string `json:"doctor_id"`
	PatientName     string `json:"patient_name"`
	PatientEmail    string `json:"patient_email"`
	DateTime        string `json:"date_time"`
	DurationMinutes int    `json:"duration_minutes"`
}

// Config tunes a simulator. Zero delays fall back to the defaults.
type Config struct {
	// BookingProbability comes from the active scenario profile.
	BookingProbability float64

	// MinActionDelay and MaxActionDelay bound the uniform pause after each call.
	MinActionDelay time.Duration
	MaxActionDelay time.Duration

	// Now overrides time.Now for booking dates.
	Now func() time.Time
}

// Default pause bounds between two actions of one session.
const (
	DefaultMinActionDelay = 500 * time.Millisecond
	DefaultMaxActionDelay = 3 * time.Second
)

// Simulator generates the action sequence of one simulated user.
type Simulator struct {
	config   Config
	doctors  []Doctor
	executor Executor
	rng      Rand
	pacer    Pacer
}

// New creates a simulator. doctors may be empty, in which case detail and
// booking actions are never emitted.
func New(config Config, doctors []Doctor, executor Executor, rng Rand) *Simulator {
	if config.MinActionDelay <= 0 && config.MaxActionDelay <= 0 {
		config.MinActionDelay = DefaultMinActionDelay
		config.MaxActionDelay = DefaultMaxActionDelay
	}
	if config.MaxActionDelay < config.MinActionDelay {
		config.MaxActionDelay = config.MinActionDelay
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Simulator{
		config:   config,
		doctors:  doctors,
		executor: executor,
		rng:      rng,
	}
}

// WithPacer makes the simulator wait on p before every request.
func (s *Simulator) WithPacer(p Pacer) *Simulator {
	s.pacer = p
	return s
}

// Plan draws the calls of one session without executing them. Every
// probability is drawn independently, in the fixed order health, browse,
// detail, book; a session may legitimately plan nothing.
func (s *Simulator) Plan() []*lghttp.Request {
	var plan []*lghttp.Request

	if s.rng.Float64() < HealthCheckProbability {
		plan = append(plan, lghttp.NewRequest(http.MethodGet, HealthPath))
	}

	if s.rng.Float64() < BrowseProbability {
		pattern := SearchPatterns[s.rng.Intn(len(SearchPatterns))]
		plan = append(plan, lghttp.NewRequest(http.MethodGet, DoctorsPath).
			WithQueryParam("specialty", pattern.Specialty).
			WithQueryParam("location", pattern.Location))
	}

	if s.rng.Float64() < DetailProbability && len(s.doctors) > 0 {
		doctor := s.randomDoctor()
		plan = append(plan, lghttp.NewTemplateRequest(http.MethodGet, DoctorPath, map[string]string{"id": doctor.ID}))
	}

	if s.rng.Float64() < s.config.BookingProbability && len(s.doctors) > 0 {
		plan = append(plan, lghttp.NewRequest(http.MethodPost, AppointmentsPath).WithBody(s.NewAppointment()))
	}

	return plan
}

// Run executes one session: each planned call goes through the executor,
// followed by a randomized pause. A started session always issues its first
// call; closing stop aborts it during the next pause. A call already in
// flight is left to finish on its own timeout. Run returns the number of
// calls executed.
func (s *Simulator) Run(ctx context.Context, stop <-chan struct{}) (int, error) {
	executed := 0
	for _, req := range s.Plan() {
		if ctx.Err() != nil {
			return executed, nil
		}

		if s.pacer != nil {
			if err := s.pacer.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return executed, nil
				}
				return executed, fmt.Errorf("pacer: %w", err)
			}
		}

		s.executor.Execute(ctx, req)
		executed++

		if !s.sleep(ctx, stop, s.actionDelay()) {
			return executed, nil
		}
	}
	return executed, nil
}

// NewAppointment synthesizes a booking for a random reference doctor,
// 1 to 14 days ahead, lasting 30 or 60 minutes.
func (s *Simulator) NewAppointment() Appointment {
	doctor := s.randomDoctor()
	name := s.patientName()

	days := s.rng.Intn(14) + 1
	when := s.config.Now().UTC().AddDate(0, 0, days)

	duration := 60
	if s.rng.Float64() < 0.5 {
		duration = 30
	}

	return Appointment{
		DoctorID:        doctor.ID,
		PatientName:     name,
		PatientEmail:    patientEmail(name),
		DateTime:        when.Format("2006-01-02T15:04:05.000Z07:00"),
		DurationMinutes: duration,
	}
}

func (s *Simulator) randomDoctor() Doctor {
	if len(s.doctors) == 0 {
		return Doctor{}
	}
	return s.doctors[s.rng.Intn(len(s.doctors))]
}

var (
	firstNames = []string{"Emma", "Liam", "Olivia", "Noah", "Ava", "Lucas", "Mia", "Ethan", "Chloe", "Hugo", "Lea", "Jules"}
	lastNames  = []string{"Martin", "Bernard", "Dubois", "Smith", "Johnson", "Garcia", "Nguyen", "Moreau", "Laurent", "Brown"}
)

func (s *Simulator) patientName() string {
	return firstNames[s.rng.Intn(len(firstNames))] + " " + lastNames[s.rng.Intn(len(lastNames))]
}

func patientEmail(name string) string {
	local := strings.ToLower(strings.ReplaceAll(name, " ", "."))
	return fmt.Sprintf("%s.%s@loadtest.example.com", local, uuid.NewString()[:8])
}

func (s *Simulator) actionDelay() time.Duration {
	return Uniform(s.rng, s.config.MinActionDelay, s.config.MaxActionDelay)
}

// sleep waits for d; it returns false when interrupted by ctx or stop.
func (s *Simulator) sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 || stopped(ctx, stop) {
		return !stopped(ctx, stop)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}

// Uniform draws a duration uniformly from [min, max].
func Uniform(rng Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Float64()*float64(max-min))
}

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}
