package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/go-reclaim/internal/auth"
	"github.com/hugh/go-reclaim/internal/database"
	"github.com/hugh/go-reclaim/internal/database/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB creates an in-memory SQLite database for testing. The pool is
// pinned to one connection so every query sees the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func CreateTestJWTService() *auth.JWTService {
	return auth.NewJWTService("test-secret-key-for-testing", 24*time.Hour)
}

// CreateTestUser creates an active user with the given role
func CreateTestUser(t *testing.T, db *gorm.DB, role string) *models.User {
	t.Helper()

	hash, err := auth.HashPassword("testpassword123")
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user := &models.User{
		Email:        role + "-" + uuid.New().String()[:8] + "@example.com",
		PasswordHash: hash,
		Name:         "Test " + role,
		Role:         role,
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// GenerateTestToken generates a valid JWT token for the given user
func GenerateTestToken(t *testing.T, jwtService *auth.JWTService, user *models.User) string {
	t.Helper()

	token, err := jwtService.GenerateToken(user.ID, user.Email, user.Role)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// CreateTestAccount creates a cloud account authorized for regions, or
// us-east-1 and us-west-2 when none are given.
func CreateTestAccount(t *testing.T, db *gorm.DB, regions ...string) *models.CloudAccount {
	t.Helper()

	if len(regions) == 0 {
		regions = []string{"us-east-1", "us-west-2"}
	}
	account := &models.CloudAccount{
		Name:              "test-account",
		AccountID:         "123456789012",
		RoleARN:           "arn:aws:iam::123456789012:role/reclaim",
		AuthorizedRegions: regions,
		CreatedBy:         "test@example.com",
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return account
}

// CreateTestFinding inserts f after filling unset fields with open, medium
// confidence defaults.
func CreateTestFinding(t *testing.T, db *gorm.DB, accountID uuid.UUID, f models.Finding) *models.Finding {
	t.Helper()

	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.AccountID = accountID
	if f.ResourceID == "" {
		f.ResourceID = "i-" + uuid.New().String()[:12]
	}
	if f.Service == "" {
		f.Service = models.ServiceEC2
	}
	if f.Region == "" {
		f.Region = "us-east-1"
	}
	if f.FindingType == "" {
		f.FindingType = models.FindingIdleInstance
	}
	if f.Title == "" {
		f.Title = "Test finding " + f.ResourceID
	}
	if f.Confidence == models.ConfidenceUnknown {
		f.Confidence = models.ConfidenceMedium
	}
	if f.Status == "" {
		f.Status = models.FindingStatusOpen
	}
	if f.DetectedAt == 0 {
		f.DetectedAt = time.Now().Unix()
	}

	if err := db.Create(&f).Error; err != nil {
		t.Fatalf("failed to create test finding: %v", err)
	}
	return &f
}

// CreateTestSchedule creates an enabled schedule due in an hour
func CreateTestSchedule(t *testing.T, db *gorm.DB, accountID uuid.UUID, name, cronExpr string) *models.ScanSchedule {
	t.Helper()

	schedule := &models.ScanSchedule{
		AccountID: accountID,
		Name:      name,
		CronExpr:  cronExpr,
		Units:     []models.ScanUnit{{Service: models.ServiceEC2, Region: "us-east-1"}},
		IsEnabled: true,
		NextRunAt: time.Now().Add(time.Hour).Unix(),
		CreatedBy: "test@example.com",
	}
	if err := db.Create(schedule).Error; err != nil {
		t.Fatalf("failed to create test schedule: %v", err)
	}
	return schedule
}

// AuthenticatedRequest creates an HTTP request with authentication
func AuthenticatedRequest(t *testing.T, method, path string, body interface{}, token string) *http.Request {
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func UnauthenticatedRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	return AuthenticatedRequest(t, method, path, body, "")
}

// AssertStatus checks if the response has the expected status code
func AssertStatus(t *testing.T, rr *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if rr.Code != expected {
		t.Errorf("expected status %d, got %d. Body: %s", expected, rr.Code, rr.Body.String())
	}
}

// ParseJSONResponse parses the response body into the given struct
func ParseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to parse response body: %v. Body: %s", err, rr.Body.String())
	}
}

// TestContext creates a context with a timeout for tests
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestSetup holds all the common test dependencies
type TestSetup struct {
	DB      *gorm.DB
	JWT     *auth.JWTService
	User    *models.User
	Token   string
	Account *models.CloudAccount
}

// NewTestContext creates a DB with an owner, its token and one cloud account.
func NewTestContext(t *testing.T) *TestSetup {
	t.Helper()

	db := SetupTestDB(t)
	jwtService := CreateTestJWTService()
	user := CreateTestUser(t, db, models.RoleOwner)

	return &TestSetup{
		DB:      db,
		JWT:     jwtService,
		User:    user,
		Token:   GenerateTestToken(t, jwtService, user),
		Account: CreateTestAccount(t, db),
	}
}

// TokenFor creates a user with role in the same database and returns its token.
func (ts *TestSetup) TokenFor(t *testing.T, role string) string {
	t.Helper()
	return GenerateTestToken(t, ts.JWT, CreateTestUser(t, ts.DB, role))
}
