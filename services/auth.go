package services

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/smtp"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

const (
	magicLinkTTL = 15 * time.Minute
	sessionTTL   = 7 * 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid or expired token")

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Claims identify the signed-in user in a session token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// pendingLogin is a one-time magic link waiting to be redeemed.
type pendingLogin struct {
	email   string
	name    string
	expires time.Time
}

type AuthService struct {
	mu         sync.Mutex
	tokens     map[string]pendingLogin
	jwtSecret  []byte
	smtpConfig SMTPConfig
	log        log.FieldLogger
	now        func() time.Time
}

func NewAuthService(secret string, smtpConfig SMTPConfig, logger log.FieldLogger) *AuthService {
	if secret == "" {
		secret = "your-default-secret-key-change-in-production"
		logger.Warn("JWT_SECRET not set, using the development secret")
	}
	return &AuthService{
		tokens:     make(map[string]pendingLogin),
		jwtSecret:  []byte(secret),
		smtpConfig: smtpConfig,
		log:        logger,
		now:        time.Now,
	}
}

// GenerateMagicLink creates a one-time token and email magic link
func (s *AuthService) GenerateMagicLink(email, name, baseURL string) (string, error) {
	token, err := s.generateSecureToken(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.mu.Lock()
	now := s.now()
	for t, p := range s.tokens {
		if now.After(p.expires) {
			delete(s.tokens, t)
		}
	}
	s.tokens[token] = pendingLogin{email: email, name: name, expires: now.Add(magicLinkTTL)}
	s.mu.Unlock()

	magicLink := fmt.Sprintf("%s/api/auth/magic-link?token=%s", baseURL, token)

	// Send the email (if SMTP is configured)
	if s.smtpConfig.Host != "" {
		if err := s.sendMagicLinkEmail(email, magicLink); err != nil {
			s.log.WithError(err).WithField("email", email).Warn("Failed to send magic link email")
		}
	}

	// For development, return the magic link directly
	return magicLink, nil
}

// VerifyMagicLinkToken redeems a one-time token, returning the email and
// display name it was issued for.
func (s *AuthService) VerifyMagicLinkToken(token string) (email, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tokens[token]
	if !ok || s.now().After(p.expires) {
		delete(s.tokens, token)
		return "", "", ErrInvalidToken
	}
	delete(s.tokens, token)
	return p.email, p.name, nil
}

// CreateJWT generates a session token for a user
func (s *AuthService) CreateJWT(userID, email, name string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Email:  email,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// VerifyJWT verifies a session token and returns its claims
func (s *AuthService) VerifyJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("user claim missing")
	}
	return claims, nil
}

// Helper to generate a secure random token
func (s *AuthService) generateSecureToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (s *AuthService) sendMagicLinkEmail(to, magicLink string) error {
	subject := "Your sign-in link"
	body := fmt.Sprintf("Click the link below to sign in to your boards:\n\n%s\n\nIf you didn't request this link, you can safely ignore this email.", magicLink)
	return s.sendMail(to, subject, body)
}

// SendInvitationEmail tells an invitee how to join a board.
func (s *AuthService) SendInvitationEmail(to, inviter, boardTitle, acceptURL string) error {
	if s.smtpConfig.Host == "" {
		return nil
	}
	subject := fmt.Sprintf("%s invited you to %s", inviter, boardTitle)
	body := fmt.Sprintf("%s invited you to collaborate on the board %q.\n\nAccept the invitation:\n\n%s", inviter, boardTitle, acceptURL)
	return s.sendMail(to, subject, body)
}

func (s *AuthService) sendMail(to, subject, body string) error {
	// Skip if SMTP not configured
	if s.smtpConfig.Host == "" || s.smtpConfig.Port == "" ||
		s.smtpConfig.Username == "" || s.smtpConfig.Password == "" {
		return errors.New("SMTP not fully configured")
	}

	auth := smtp.PlainAuth("", s.smtpConfig.Username, s.smtpConfig.Password, s.smtpConfig.Host)

	from := s.smtpConfig.From
	if from == "" {
		from = s.smtpConfig.Username
	}

	message := fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s", from, to, subject, body)

	addr := fmt.Sprintf("%s:%s", s.smtpConfig.Host, s.smtpConfig.Port)
	if err := smtp.SendMail(addr, auth, from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
