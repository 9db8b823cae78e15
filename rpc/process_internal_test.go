package rpc

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessCloseDrainsStderr(t *testing.T) {
	t.Setenv("REAGENT_RPC_HELPER_PROCESS", "1")

	p, err := StartProcess(context.Background(), os.Args[0], []string{"-test.run=^TestHelperProcess$"})
	require.NoError(t, err)
	require.NoError(t, p.Ping(context.Background()))
	require.NoError(t, p.Close())

	select {
	case <-p.stderrDone:
	default:
		t.Fatal("stderr is not drained after Close")
	}
	select {
	case <-p.exited:
	default:
		t.Fatal("process is not reaped after Close")
	}
}
