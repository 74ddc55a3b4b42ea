package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShareSignerIssueAndVerify(t *testing.T) {
	signer := NewShareSigner("secret", time.Hour)
	token, expiresAt, err := signer.Issue("krs/2024010001/krs_semester_1.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	path, err := signer.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "krs/2024010001/krs_semester_1.pdf", path)
}

func TestShareSignerRejectsExpiredToken(t *testing.T) {
	signer := NewShareSigner("secret", 10*time.Millisecond)
	token, _, err := signer.Issue("krs/2024010001/krs_semester_1.pdf")
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = signer.Verify(token)
	require.Error(t, err)
}

func TestShareSignerRejectsTamperedToken(t *testing.T) {
	signer := NewShareSigner("secret", time.Hour)
	token, _, err := signer.Issue("krs/2024010001/krs_semester_1.pdf")
	require.NoError(t, err)

	_, err = signer.Verify(token + "x")
	require.Error(t, err)

	other := NewShareSigner("different", time.Hour)
	_, err = other.Verify(token)
	require.Error(t, err)
}
