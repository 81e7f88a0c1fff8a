// Package stubapi serves an in-memory imitation of the booking API. It
// answers the four routes the load generator calls, which makes local dry
// runs and end-to-end tests possible without a database.
package stubapi

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/doktolib/loadgen/pkg/jsonschema"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "doktolib-backend"

// Doctor is a listing entry.
type Doctor struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Specialty    string  `json:"specialty"`
	Location     string  `json:"location"`
	Rating       float64 `json:"rating"`
	PricePerHour int     `json:"price_per_hour"`
	Experience   int     `json:"experience_years"`
	Languages    string  `json:"languages"`
}

// Appointment is a stored booking.
type Appointment struct {
	ID           string    `json:"id"`
	DoctorID     string    `json:"doctor_id"`
	PatientName  string    `json:"patient_name"`
	PatientEmail string    `json:"patient_email"`
	DateTime     time.Time `json:"date_time"`
	Duration     int       `json:"duration_minutes"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type createAppointmentRequest struct {
	DoctorID     string `json:"doctor_id"`
	PatientName  string `json:"patient_name"`
	PatientEmail string `json:"patient_email"`
	DateTime     string `json:"date_time"`
	Duration     int    `json:"duration_minutes"`
}

var appointmentSchema = jsonschema.MustCompile(`{
	"type": "object",
	"required": ["doctor_id", "patient_name", "patient_email", "date_time", "duration_minutes"],
	"properties": {
		"doctor_id": {"type": "string", "minLength": 1},
		"patient_name": {"type": "string", "minLength": 1},
		"patient_email": {"type": "string", "minLength": 3},
		"date_time": {"type": "string", "minLength": 1},
		"duration_minutes": {"type": "integer", "minimum": 1}
	}
}`)

// Config tunes the stub.
type Config struct {
	// Doctors is the size of the generated directory.
	Doctors int
	// Seed makes the directory reproducible.
	Seed int64
	// Latency is added to every response.
	Latency time.Duration
	// FailureRate is the share of requests answered with a 500.
	FailureRate float64
	Logger      *zap.Logger
	Now         func() time.Time
}

// Server implements http.Handler on top of a gin engine.
type Server struct {
	config  Config
	engine  *gin.Engine
	doctors []Doctor
	byID    map[string]Doctor

	mu           sync.Mutex
	rng          *rand.Rand
	appointments []Appointment

	requests atomic.Int64
}

// New builds a stub with a generated doctor directory.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Doctors < 0 {
		config.Doctors = 0
	}

	rng := rand.New(rand.NewSource(config.Seed))
	s := &Server{
		config:  config,
		doctors: GenerateDoctors(rng, config.Doctors),
		rng:     rng,
	}
	s.byID = make(map[string]Doctor, len(s.doctors))
	for _, d := range s.doctors {
		s.byID[d.ID] = d
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.countRequests, s.addLatency)

	api := r.Group("/api/v1")
	api.GET("/health", s.health)

	booking := api.Group("", s.injectFailures)
	booking.GET("/doctors", s.listDoctors)
	booking.GET("/doctors/:id", s.getDoctor)
	booking.POST("/appointments", s.createAppointment)
	booking.GET("/appointments", s.listAppointments)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Doctors returns the generated directory.
func (s *Server) Doctors() []Doctor {
	return s.doctors
}

// Appointments returns a copy of the stored bookings.
func (s *Server) Appointments() []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Appointment(nil), s.appointments...)
}

// Requests returns the number of requests received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) roll() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Server) countRequests(c *gin.Context) {
	s.requests.Add(1)
	c.Next()
}

func (s *Server) addLatency(c *gin.Context) {
	if s.config.Latency > 0 {
		time.Sleep(s.config.Latency)
	}
	c.Next()
}

// injectFailures answers a share of booking requests with a 500. Health
// is registered outside its group and always answers.
func (s *Server) injectFailures(c *gin.Context) {
	if s.config.FailureRate > 0 && s.roll() < s.config.FailureRate {
		s.config.Logger.Debug("injected failure",
			zap.String("method", c.Request.Method), zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Injected failure"})
		return
	}
	c.Next()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": s.config.Now(),
		"service":   ServiceName,
	})
}

// listDoctors filters by case-insensitive substring, like the real
// backend. An empty result is encoded as null.
func (s *Server) listDoctors(c *gin.Context) {
	specialty := strings.ToLower(c.Query("specialty"))
	location := strings.ToLower(c.Query("location"))

	limit := -1
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	var out []Doctor
	for _, d := range s.doctors {
		if limit >= 0 && len(out) == limit {
			break
		}
		if specialty != "" && !strings.Contains(strings.ToLower(d.Specialty), specialty) {
			continue
		}
		if location != "" && !strings.Contains(strings.ToLower(d.Location), location) {
			continue
		}
		out = append(out, d)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getDoctor(c *gin.Context) {
	d, ok := s.byID[c.Param("id")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Doctor not found"})
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) createAppointment(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := appointmentSchema.Validate(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req createAppointmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	when, err := time.Parse(time.RFC3339, req.DateTime)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date format"})
		return
	}
	now := s.config.Now()
	if when.Before(now) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot book appointments in the past"})
		return
	}
	if _, ok := s.byID[req.DoctorID]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Doctor not found"})
		return
	}

	appt := Appointment{
		ID:           uuid.New().String(),
		DoctorID:     req.DoctorID,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		DateTime:     when.UTC(),
		Duration:     req.Duration,
		Status:       "confirmed",
		CreatedAt:    now,
	}
	s.mu.Lock()
	s.appointments = append(s.appointments, appt)
	s.mu.Unlock()

	s.config.Logger.Debug("appointment booked",
		zap.String("id", appt.ID), zap.String("doctor", appt.DoctorID))
	c.JSON(http.StatusCreated, appt)
}

func (s *Server) listAppointments(c *gin.Context) {
	doctorID := c.Query("doctor_id")
	var out []Appointment
	for _, a := range s.Appointments() {
		if doctorID == "" || a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	c.JSON(http.StatusOK, out)
}

var (
	firstNames = []string{
		"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda",
		"David", "Elizabeth", "William", "Barbara", "Richard", "Susan", "Joseph", "Jessica",
	}
	lastNames = []string{
		"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
		"Rodriguez", "Martinez", "Wilson", "Anderson", "Taylor", "Nguyen", "Lee", "Clark",
	}
	specialties = []string{
		"General Practitioner", "Cardiologist", "Dermatologist", "Pediatrician",
		"Psychiatrist", "Neurologist", "Ophthalmologist", "Orthopedist",
	}
	cities = []string{
		"New York, NY", "Los Angeles, CA", "Chicago, IL", "Houston, TX",
		"San Francisco, CA", "Seattle, WA", "Boston, MA", "Austin, TX",
	}
	languages = []string{
		"English", "English, Spanish", "English, French", "English, Mandarin",
	}
)

// GenerateDoctors builds a directory of n doctors from rng.
func GenerateDoctors(rng *rand.Rand, n int) []Doctor {
	doctors := make([]Doctor, 0, n)
	for i := 0; i < n; i++ {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			id = uuid.New()
		}
		doctors = append(doctors, Doctor{
			ID:           id.String(),
			Name:         fmt.Sprintf("Dr. %s %s", pick(rng, firstNames), pick(rng, lastNames)),
			Specialty:    pick(rng, specialties),
			Location:     pick(rng, cities),
			Rating:       float64(30+rng.Intn(21)) / 10,
			PricePerHour: 50 + rng.Intn(251),
			Experience:   1 + rng.Intn(35),
			Languages:    pick(rng, languages),
		})
	}
	return doctors
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}
