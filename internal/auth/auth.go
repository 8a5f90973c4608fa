package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var ErrBadCredentials = errors.New("invalid email or password")
var ErrEmailTaken = errors.New("email already registered")
var ErrBadToken = errors.New("invalid token")

const tokenTTL = 24 * time.Hour

// User is the identity handed to the rest of the system: a stable id and a
// display name. The password hash never leaves this package.
type User struct {
	ID          string
	DisplayName string
}

type account struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	DisplayName  string
	CreatedAt    time.Time
}

func (account) TableName() string { return "accounts" }

type Service struct {
	db     *gorm.DB
	secret []byte
	log    *zap.Logger
}

func NewService(db *gorm.DB, secret []byte, log *zap.Logger) (*Service, error) {
	if err := db.AutoMigrate(&account{}); err != nil {
		return nil, fmt.Errorf("migrate accounts: %w", err)
	}
	return &Service{db: db, secret: secret, log: log}, nil
}

func (s *Service) Register(ctx context.Context, email, password, displayName string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	acc := account{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: "",
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	acc.PasswordHash = string(hash)

	if err := s.db.WithContext(ctx).Create(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("create account: %w", err)
	}
	return userOf(acc), nil
}

// SignIn verifies credentials. Both unknown-email and wrong-password come
// back as ErrBadCredentials so the response never says which half failed.
func (s *Service) SignIn(ctx context.Context, email, password string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var acc account
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrBadCredentials
	}
	if err != nil {
		return User{}, fmt.Errorf("look up account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		s.log.Debug("password mismatch", zap.String("account_id", acc.ID))
		return User{}, ErrBadCredentials
	}
	return userOf(acc), nil
}

func userOf(acc account) User {
	name := acc.DisplayName
	if name == "" {
		name = "Anonymous"
	}
	return User{ID: acc.ID, DisplayName: name}
}

type claims struct {
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

func (s *Service) IssueToken(user User) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		DisplayName: user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	return tok.SignedString(s.secret)
}

func (s *Service) UserFromToken(tokenString string) (User, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !tok.Valid || c.Subject == "" {
		return User{}, ErrBadToken
	}
	name := c.DisplayName
	if name == "" {
		name = "Anonymous"
	}
	return User{ID: c.Subject, DisplayName: name}, nil
}
