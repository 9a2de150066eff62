package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewAnomaly_UsesTaggedKind(t *testing.T) {
	t.Parallel()

	at := time.Unix(100, 0)
	tagged := fmt.Errorf("status query: %w", &AnomalyError{Kind: AnomalyDecode, Err: errors.New("bad json")})

	a := NewAnomaly(tagged, 2, at)
	require.Equal(t, AnomalyDecode, a.Kind)
	require.Equal(t, 2, a.Attempt)
	require.Equal(t, at, a.At)
	require.ErrorIs(t, a.Err, tagged)

	plain := NewAnomaly(errors.New("boom"), 1, at)
	require.Equal(t, AnomalyUnknown, plain.Kind)
}

func TestPollErrors_MatchSentinels(t *testing.T) {
	t.Parallel()

	log := AnomalyLog{{Kind: AnomalyHTTP, Message: "502"}}
	timeout := fmt.Errorf("scrape: %w", &TimeoutError{Timeout: time.Second, Anomalies: log, Cause: context.Canceled})
	limit := fmt.Errorf("scrape: %w", &ErrorLimitError{Limit: 3, Anomalies: log})

	require.ErrorIs(t, timeout, ErrTimeout)
	require.ErrorIs(t, timeout, context.Canceled)
	require.NotErrorIs(t, timeout, ErrErrorLimit)
	require.ErrorIs(t, limit, ErrErrorLimit)
	require.Equal(t, log, AnomaliesOf(timeout))
	require.Equal(t, log, AnomaliesOf(limit))
	require.Nil(t, AnomaliesOf(errors.New("other")))
	require.Contains(t, limit.Error(), "last: 502")
}

func TestAnomalyLogClone(t *testing.T) {
	t.Parallel()

	var empty AnomalyLog
	require.NotNil(t, empty.Clone())

	log := AnomalyLog{{Message: "a"}}
	clone := log.Clone()
	clone[0].Message = "b"
	require.Equal(t, "a", log[0].Message)
}
