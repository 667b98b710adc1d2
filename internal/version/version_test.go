package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserAgent(t *testing.T) {
	require.Equal(t, "tsl-go-sdk/"+Version(), UserAgent())

	old := CommitHash
	t.Cleanup(func() { CommitHash = old })
	CommitHash = " abc123!\n"
	require.Equal(t, "tsl-go-sdk/"+Version()+" (abc123)", UserAgent())
}
