package portal

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors mapped to HTTP statuses by the handlers.
var (
	ErrAlreadyExists = errors.New("user already exists")
	ErrAuthFailed    = errors.New("invalid credentials")
	ErrNotFound      = errors.New("user not found")
	ErrPendingExists = errors.New("pending purchase exists")
)

// Account is a self-service student record. This store is separate from the
// manager-side users table in the realtime store; provisioning bridges the
// two out of band.
type Account struct {
	ID       string    `json:"-"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     string    `json:"role"`
	RFIDTag  string    `json:"rfid_tag"`
	FaceID   []float64 `json:"face_id"`
	Status   string    `json:"status"`
}

// Purchase is one meal-day credit order. Status moves from pending to
// approved or rejected by an administrator, outside this service.
type Purchase struct {
	PurchasedDays int    `json:"purchased_days"`
	PurchaseDate  string `json:"purchase_date"`
	Status        string `json:"status"`
}

// Plans maps monthKey -> timestampKey -> purchase.
type Plans map[string]map[string]Purchase

type fileData struct {
	Users map[string]Account `json:"users"`
	Plans map[string]Plans   `json:"plans"`
}

// FileStore persists student accounts and purchases in a single JSON file,
// whole-file read-modify-write under one mutex per operation.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore uses path for the backing file; the file is created on first
// write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Signup creates an account with a generated id, rfid tag, and face
// embedding placeholder. Returns ErrAlreadyExists when the email is taken.
func (s *FileStore) Signup(name, email, password string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return Account{}, err
	}
	for _, u := range data.Users {
		if u.Email == email {
			return Account{}, ErrAlreadyExists
		}
	}

	acct := Account{
		ID:       generateID(email),
		Name:     name,
		Email:    email,
		Password: password,
		Role:     "student",
		RFIDTag:  randomRFID(),
		FaceID:   randomFaceID(),
		Status:   "active",
	}
	data.Users[acct.ID] = acct
	if err := s.save(data); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Login validates credentials. Returns ErrAuthFailed for an unknown email or
// a password mismatch, indistinguishably.
func (s *FileStore) Login(email, password string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return Account{}, err
	}
	for id, u := range data.Users {
		if u.Email == email {
			if u.Password != password {
				return Account{}, ErrAuthFailed
			}
			u.ID = id
			return u, nil
		}
	}
	return Account{}, ErrAuthFailed
}

// Get returns an account by id.
func (s *FileStore) Get(userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return Account{}, err
	}
	u, ok := data.Users[userID]
	if !ok {
		return Account{}, ErrNotFound
	}
	u.ID = userID
	return u, nil
}

// Purchase records a pending meal-day order under the current month. At most
// one pending purchase is allowed per student; the check and the insert are
// two steps under this process's mutex, not a store-level transaction, so
// two processes sharing the file could still both pass the check. Known gap,
// kept as-is.
func (s *FileStore) Purchase(userID string, days int) (Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return Purchase{}, err
	}
	if _, ok := data.Users[userID]; !ok {
		return Purchase{}, ErrNotFound
	}
	for _, months := range data.Plans[userID] {
		for _, p := range months {
			if p.Status == "pending" {
				return Purchase{}, ErrPendingExists
			}
		}
	}

	now := time.Now().UTC()
	p := Purchase{
		PurchasedDays: days,
		PurchaseDate:  now.Format(time.RFC3339),
		Status:        "pending",
	}
	if data.Plans[userID] == nil {
		data.Plans[userID] = Plans{}
	}
	monthKey := now.Format("2006_01")
	if data.Plans[userID][monthKey] == nil {
		data.Plans[userID][monthKey] = map[string]Purchase{}
	}
	data.Plans[userID][monthKey][fmt.Sprintf("p_%d", now.UnixMilli())] = p

	if err := s.save(data); err != nil {
		return Purchase{}, err
	}
	return p, nil
}

// PlansFor returns all purchases for a student, keyed by month then
// timestamp. Empty map when the student has none.
func (s *FileStore) PlansFor(userID string) (Plans, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return nil, err
	}
	if _, ok := data.Users[userID]; !ok {
		return nil, ErrNotFound
	}
	plans := data.Plans[userID]
	if plans == nil {
		plans = Plans{}
	}
	return plans, nil
}

func (s *FileStore) load() (*fileData, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &fileData{Users: map[string]Account{}, Plans: map[string]Plans{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if data.Users == nil {
		data.Users = map[string]Account{}
	}
	if data.Plans == nil {
		data.Plans = map[string]Plans{}
	}
	return &data, nil
}

func (s *FileStore) save(data *fileData) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, raw, 0o600)
}

func generateID(email string) string {
	prefix := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return -1
		}
	}, strings.SplitN(email, "@", 2)[0])
	if prefix == "" {
		prefix = "S"
	}
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func randomRFID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// randomFaceID yields a placeholder embedding until real enrollment replaces it.
func randomFaceID() []float64 {
	out := make([]float64, 16)
	for i := range out {
		out[i] = rand.Float64()*2 - 1
	}
	return out
}
