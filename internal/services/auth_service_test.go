package services

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setAuthTestParams(t *testing.T) {
	t.Helper()
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("argon2.salt_length", 16)
}

func TestPasswordHashing(t *testing.T) {
	setAuthTestParams(t)

	hash, err := hashPassword("hunter22")
	assert.NoError(t, err)
	assert.Contains(t, hash, "$")

	assert.True(t, verifyPassword("hunter22", hash))
	assert.False(t, verifyPassword("hunter23", hash))
	assert.False(t, verifyPassword("hunter22", "not-a-hash"))

	// Two hashes of the same password differ because of the random salt.
	again, err := hashPassword("hunter22")
	assert.NoError(t, err)
	assert.NotEqual(t, hash, again)
}

func TestGenerateJWT(t *testing.T) {
	setAuthTestParams(t)

	token, err := generateJWT(User{ID: "user1", OrgID: "org1", Role: "OWNER"})
	assert.NoError(t, err)

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	assert.NoError(t, err)
	assert.True(t, parsed.Valid)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, "user1", claims["user_id"])
	assert.Equal(t, "org1", claims["org_id"])
	assert.Equal(t, "OWNER", claims["role"])
}

func TestAuthService_Register(t *testing.T) {
	setAuthTestParams(t)

	t.Run("fresh org becomes owner with capital accounts", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewAuthService(db, nil, NewCapitalService(db, NewLedgerService(db), testLedgerConfig()))

		mock.ExpectExec("INSERT INTO users").
			WillReturnResult(sqlmock.NewResult(1, 1))
		for range [4]struct{}{} {
			mock.ExpectExec("INSERT INTO capital_accounts (.+) ON CONFLICT").
				WillReturnResult(sqlmock.NewResult(1, 1))
		}

		body := `{"email":"Owner@Example.com","password":"hunter22","name":"Dealer One"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"token"`)
		assert.Contains(t, w.Body.String(), `"owner@example.com"`)
		assert.Contains(t, w.Body.String(), `"OWNER"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("joining an existing org defaults to viewer", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewAuthService(db, nil, NewCapitalService(db, NewLedgerService(db), testLedgerConfig()))

		// No capital account setup for non-owners.
		mock.ExpectExec("INSERT INTO users").
			WillReturnResult(sqlmock.NewResult(1, 1))

		body := `{"email":"helper@example.com","password":"hunter22","name":"Helper",` +
			`"orgId":"0d4cf91e-8f3b-45d8-9a58-3a1f4a2a9f10"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"VIEWER"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewAuthService(db, nil, NewCapitalService(db, NewLedgerService(db), testLedgerConfig()))

		body := `{"email":"a@b.com","password":"hunter22","name":"A","admin":true}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("short password fails validation", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewAuthService(db, nil, NewCapitalService(db, NewLedgerService(db), testLedgerConfig()))

		body := `{"email":"a@b.com","password":"pw","name":"A"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Register(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Password")
	})
}

func TestAuthService_Login(t *testing.T) {
	setAuthTestParams(t)

	hash, err := hashPassword("hunter22")
	assert.NoError(t, err)

	userCols := []string{"id", "org_id", "email", "name", "role", "password"}

	t.Run("valid credentials", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewAuthService(db, nil, NewCapitalService(db, NewLedgerService(db), testLedgerConfig()))

		mock.ExpectQuery("SELECT id, org_id, email, name, role, password FROM users").
			WithArgs("owner@example.com").
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow("user1", "org1", "owner@example.com", "Dealer One", "OWNER", hash))

		body := `{"email":"owner@example.com","password":"hunter22"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Login(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"token"`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewAuthService(db, nil, NewCapitalService(db, NewLedgerService(db), testLedgerConfig()))

		mock.ExpectQuery("SELECT id, org_id, email, name, role, password FROM users").
			WithArgs("owner@example.com").
			WillReturnRows(sqlmock.NewRows(userCols).
				AddRow("user1", "org1", "owner@example.com", "Dealer One", "OWNER", hash))

		body := `{"email":"owner@example.com","password":"wrong-password"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown email", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()
		service := NewAuthService(db, nil, NewCapitalService(db, NewLedgerService(db), testLedgerConfig()))

		mock.ExpectQuery("SELECT id, org_id, email, name, role, password FROM users").
			WithArgs("ghost@example.com").
			WillReturnRows(sqlmock.NewRows(userCols))

		body := `{"email":"ghost@example.com","password":"hunter22"}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		w := httptest.NewRecorder()
		service.Login(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
