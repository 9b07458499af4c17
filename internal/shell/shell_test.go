package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/klokku/taskmanager/internal/event_bus"
	"github.com/klokku/taskmanager/internal/utils"
	"github.com/klokku/taskmanager/pkg/account"
	"github.com/klokku/taskmanager/pkg/agenda"
	"github.com/klokku/taskmanager/pkg/calendar"
	"github.com/klokku/taskmanager/pkg/event"
	"github.com/klokku/taskmanager/pkg/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncerStub struct{}

func (syncerStub) SyncAllAccounts(ctx context.Context) *reconciler.Report {
	return &reconciler.Report{PassId: "pass-1", Success: true}
}

func setupShell(t *testing.T, input string) (*Shell, *bytes.Buffer, *utils.MockClock) {
	clock := &utils.MockClock{FixedNow: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	service := agenda.NewService(event.NewRepositoryStub(), account.NewService(account.NewRepositoryStub()),
		calendar.New(), syncerStub{}, event_bus.NewEventBus(), clock)
	require.NoError(t, service.Load(context.Background()))
	out := &bytes.Buffer{}
	return New(service, strings.NewReader(input), out), out, clock
}

func TestShell_Session(t *testing.T) {
	// given
	s, out, _ := setupShell(t, strings.Join([]string{
		`create_event "Write report"`,
		`ongoing`,
		`edit 1 "Final report" due friday`,
		`ls`,
		`rm 1`,
		`future`,
		`exit`,
		`ls`,
	}, "\n"))

	// when
	err := s.Run(context.Background())

	// then
	require.NoError(t, err)
	output := out.String()
	assert.Contains(t, output, "created 1: Write report")
	assert.Contains(t, output, "updated 1: Final report")
	assert.Contains(t, output, "removed 1")
	assert.Contains(t, output, "no events")
	assert.Equal(t, 7, strings.Count(output, prompt), "the line after exit is never read")
}

func TestShell_TicksBeforeEveryCommand(t *testing.T) {
	s, out, clock := setupShell(t, "")
	ctx := context.Background()
	require.NoError(t, s.Execute(ctx, "create_event standup"))

	clock.Advance(2 * time.Hour)
	out.Reset()
	require.NoError(t, s.Execute(ctx, "past"))

	assert.Contains(t, out.String(), "standup")
}

func TestShell_Errors(t *testing.T) {
	s, _, _ := setupShell(t, "")
	ctx := context.Background()

	assert.ErrorContains(t, s.Execute(ctx, "fly"), "unknown command")
	assert.ErrorContains(t, s.Execute(ctx, "rm"), "usage")
	assert.ErrorContains(t, s.Execute(ctx, "rm abc"), "invalid event id")
	assert.ErrorIs(t, s.Execute(ctx, "rm 99"), event.ErrEventNotFound)
	assert.ErrorContains(t, s.Execute(ctx, `create_event "unterminated`), "cannot parse")
	assert.NoError(t, s.Execute(ctx, "   "))
}

func TestShell_HelpAndSync(t *testing.T) {
	s, out, _ := setupShell(t, "")
	ctx := context.Background()

	require.NoError(t, s.Execute(ctx, "help"))
	assert.Contains(t, out.String(), "create_event <title>")

	out.Reset()
	require.NoError(t, s.Execute(ctx, "help rm"))
	assert.Contains(t, out.String(), "remove an event")

	out.Reset()
	require.NoError(t, s.Execute(ctx, "sync"))
	assert.Contains(t, out.String(), "sync pass-1 succeeded")
}
