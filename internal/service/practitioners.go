// Package service contains the confidentiality-subsystem application
// services: practitioner enrollment and the vault access gate.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	pkgcrypto "wellvault/internal/crypto"
	"wellvault/internal/model"
	"wellvault/internal/repository"
)

// PractitionerService defines enrollment of wellbeing professionals.
type PractitionerService interface {
	// Enroll creates a practitioner: verifier, KEK salt, and a Curve25519
	// wrap target whose private half is wrapped under the KEK.
	Enroll(ctx context.Context, username, displayName string, role model.Role, secret []byte) (uuid.UUID, error)
	// Get returns a practitioner's public profile data.
	Get(ctx context.Context, id uuid.UUID) (*model.Practitioner, error)
}

type PractitionerServiceImpl struct {
	repo repository.PractitionerRepository
	kdf  pkgcrypto.Argon2Params
}

// NewPractitionerService constructs PractitionerService.
func NewPractitionerService(repo repository.PractitionerRepository, kdf pkgcrypto.Argon2Params) *PractitionerServiceImpl {
	return &PractitionerServiceImpl{repo: repo, kdf: kdf}
}

// Enroll creates the practitioner row. The secret itself is never stored:
// only the salted verifier and the KEK-wrapped private key leave this
// function, and all intermediate key material is wiped.
func (s *PractitionerServiceImpl) Enroll(
	ctx context.Context, username, displayName string, role model.Role, secret []byte,
) (uuid.UUID, error) {
	if username == "" || len(secret) == 0 {
		return uuid.Nil, errors.New("validation: empty username/secret")
	}
	if role == "" {
		role = model.RolePractitioner
	}
	if role != model.RolePractitioner && role != model.RoleAdmin {
		return uuid.Nil, fmt.Errorf("validation: unknown role %q", role)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	authSalt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return uuid.Nil, err
	}
	kekSalt, err := pkgcrypto.RandBytes(16)
	if err != nil {
		return uuid.Nil, err
	}

	pub, priv, err := pkgcrypto.NewWrapTarget()
	if err != nil {
		return uuid.Nil, err
	}
	defer pkgcrypto.Wipe(priv)

	kek := pkgcrypto.DeriveKEK(secret, kekSalt, s.kdf)
	defer pkgcrypto.Wipe(kek)

	wrappedPriv, err := pkgcrypto.WrapKey(kek, priv)
	if err != nil {
		return uuid.Nil, err
	}

	p := &model.Practitioner{
		ID:             id,
		Username:       username,
		DisplayName:    displayName,
		Role:           role,
		AuthSalt:       authSalt,
		SecretVerifier: pkgcrypto.HashSecret(secret, authSalt, s.kdf),
		KekSalt:        kekSalt,
		PubKey:         pub,
		WrappedPrivKey: wrappedPriv,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Get loads a practitioner by ID.
func (s *PractitionerServiceImpl) Get(ctx context.Context, id uuid.UUID) (*model.Practitioner, error) {
	if id == uuid.Nil {
		return nil, errors.New("validation: empty id")
	}
	return s.repo.GetByID(ctx, id)
}
