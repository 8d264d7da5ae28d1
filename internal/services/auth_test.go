package services

import "testing"

func TestRegisterAndLogin(t *testing.T) {
	db := testDB(t)
	svc := NewAuthService(db, "test-secret")

	token, err := svc.Register("alice", "hunter2", "Alice")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if token == "" {
		t.Fatalf("register must return a token")
	}

	if _, err := svc.Register("alice", "other", ""); err == nil {
		t.Fatalf("duplicate username must be rejected")
	}

	if _, err := svc.Login("alice", "wrong"); err == nil {
		t.Fatalf("wrong password must be rejected")
	}
	if _, err := svc.Login("nobody", "hunter2"); err == nil {
		t.Fatalf("unknown user must be rejected")
	}

	token, err = svc.Login("alice", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	userID, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if userID == 0 {
		t.Fatalf("token must carry the user id")
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	db := testDB(t)
	svc := NewAuthService(db, "test-secret")
	other := NewAuthService(db, "different-secret")

	token, err := svc.Register("bob", "pw", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatalf("token signed with another secret must be rejected")
	}
	if _, err := svc.ValidateToken("not-a-token"); err == nil {
		t.Fatalf("garbage token must be rejected")
	}
}
