// Package testing provides a step-based harness for exercising Bubbletea
// models without a terminal: send messages, intercept async command results,
// and assert View() output against golden files.
package testing

import (
	"reflect"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/sebdah/goldie/v2"
)

// TestHarness drives a Bubbletea model through a scripted sequence of steps.
// Regular steps send a message and assert the result; Expect steps intercept
// messages produced by async commands; Finally stops command processing.
type TestHarness[T tea.Model] struct {
	model              T
	steps              []TestStep[T]
	expectedSteps      []TestStep[T]
	finalStep          *TestStep[T]
	goldie             *goldie.Goldie
	currentExpectIndex int
	stopProcessing     bool
}

// TestStep is one step in a test sequence: an optional message into
// Update(), then assertions on View() output and model state.
type TestStep[T tea.Model] struct {
	// Name identifies the step in failures and golden file names.
	Name string

	// Msg to send to Update(). Nil renders the current state without an
	// update. Leave nil on Expect steps; the message comes from a command.
	Msg tea.Msg

	// ExpectedMsgType narrows an Expect step to one message type. Use a
	// zero value of the message type.
	ExpectedMsgType tea.Msg

	// MessageAssert inspects the raw intercepted message before Update().
	MessageAssert func(t *testing.T, msg tea.Msg)

	// ViewGolden compares View() output against testdata/<name>.golden.
	// Regenerate with go test -update.
	ViewGolden string

	// ViewAssert is a custom assertion on View() output. Runs in addition
	// to ViewGolden when both are set.
	ViewAssert func(t *testing.T, view string)

	// ModelAssert inspects model state after Update().
	ModelAssert func(t *testing.T, m T)

	// SkipViewAssertion skips View() assertions for this step.
	SkipViewAssertion bool
}

// NewTestHarness creates a harness for model. The color profile is forced to
// ASCII so golden files are stable across terminals and CI.
func NewTestHarness[T tea.Model](t *testing.T, model T) *TestHarness[T] {
	t.Helper()

	lipgloss.SetColorProfile(termenv.Ascii)

	return &TestHarness[T]{
		model: model,
		goldie: goldie.New(t,
			goldie.WithFixtureDir("testdata"),
			goldie.WithNameSuffix(".golden"),
		),
	}
}

// Step appends a regular test step. Steps run in order.
func (h *TestHarness[T]) Step(step TestStep[T]) *TestHarness[T] {
	h.steps = append(h.steps, step)
	return h
}

// Expect appends a step that intercepts the next async command message.
// Each Expect consumes one message, matched by ExpectedMsgType when set.
func (h *TestHarness[T]) Expect(step TestStep[T]) *TestHarness[T] {
	h.expectedSteps = append(h.expectedSteps, step)
	return h
}

// Finally sets a terminal step: once its message arrives and its assertions
// run, command processing stops. Use it to end tick-driven command chains.
func (h *TestHarness[T]) Finally(step TestStep[T]) *TestHarness[T] {
	h.finalStep = &step
	return h
}

// Run initializes the model, then executes every step in order, feeding
// command results back through Update() the way the Bubbletea runtime would.
func (h *TestHarness[T]) Run(t *testing.T) {
	t.Helper()

	h.currentExpectIndex = 0
	h.stopProcessing = false

	initCmd := h.model.Init()
	h.processCommands(t, initCmd, 0)

	for _, step := range h.steps {
		if h.stopProcessing {
			break
		}

		t.Run(step.Name, func(t *testing.T) {
			if step.Msg != nil {
				updatedModel, cmd := h.model.Update(step.Msg)
				var ok bool
				h.model, ok = updatedModel.(T)
				if !ok {
					t.Fatalf("model %T is not %T", updatedModel, new(T))
				}
				h.processCommands(t, cmd, 0)
			}

			h.assertStep(t, step)
		})
	}
}

// maxCommandDepth bounds recursive command processing so tick-based
// commands cannot loop forever.
const maxCommandDepth = 10

func (h *TestHarness[T]) processCommands(t *testing.T, cmd tea.Cmd, depth int) {
	t.Helper()

	if cmd == nil || h.stopProcessing {
		return
	}
	if depth >= maxCommandDepth {
		t.Log("max command depth exceeded")
		return
	}

	msg := cmd()
	if msg == nil {
		return
	}

	if h.intercept(t, msg) {
		return
	}

	updatedModel, nextCmd := h.model.Update(msg)
	h.model = updatedModel.(T) //nolint:errcheck // Type assertion guaranteed by the harness generic
	h.processCommands(t, nextCmd, depth+1)
}

// intercept routes an async message to the next Expect step or the Finally
// step. Returns true when the message was consumed.
func (h *TestHarness[T]) intercept(t *testing.T, msg tea.Msg) bool {
	t.Helper()

	if len(h.expectedSteps) == 0 && h.finalStep == nil {
		return false
	}

	if h.currentExpectIndex < len(h.expectedSteps) {
		step := h.expectedSteps[h.currentExpectIndex]
		if matchesMessageType(msg, step) {
			h.currentExpectIndex++
			h.applyIntercepted(t, msg, step)
			return true
		}
		t.Fatalf("unexpected message during command processing: step %s expected %s, got %T (%+v)",
			step.Name, expectedTypeName(step), msg, msg)
		return true
	}

	if h.finalStep != nil {
		if matchesMessageType(msg, *h.finalStep) {
			h.applyIntercepted(t, msg, *h.finalStep)
			h.stopProcessing = true
			return true
		}
		if !isFrameworkMessage(msg) {
			t.Fatalf("unexpected message before final step %s: expected %s, got %T (%+v)",
				h.finalStep.Name, expectedTypeName(*h.finalStep), msg, msg)
		}
		return false
	}

	return false
}

// applyIntercepted feeds an intercepted message through Update() and runs
// the step's assertions on the resulting state.
func (h *TestHarness[T]) applyIntercepted(t *testing.T, msg tea.Msg, step TestStep[T]) {
	t.Helper()

	if step.MessageAssert != nil {
		step.MessageAssert(t, msg)
	}

	updatedModel, _ := h.model.Update(msg)
	h.model = updatedModel.(T) //nolint:errcheck // Type assertion guaranteed by the harness generic

	t.Run(step.Name, func(t *testing.T) {
		h.assertStep(t, step)
	})
}

func (h *TestHarness[T]) assertStep(t *testing.T, step TestStep[T]) {
	t.Helper()

	if !step.SkipViewAssertion {
		view := normalizeView(h.model.View())
		if step.ViewGolden != "" {
			h.goldie.Assert(t, step.ViewGolden, []byte(view))
		}
		if step.ViewAssert != nil {
			step.ViewAssert(t, view)
		}
	}

	if step.ModelAssert != nil {
		step.ModelAssert(t, h.model)
	}
}

func expectedTypeName[T tea.Model](step TestStep[T]) string {
	if step.ExpectedMsgType == nil {
		return "any async message"
	}
	return reflect.TypeOf(step.ExpectedMsgType).String()
}

// isFrameworkMessage reports whether msg is Bubbletea plumbing rather than
// an async command result.
func isFrameworkMessage(msg tea.Msg) bool {
	switch msg.(type) {
	case tea.BatchMsg, tea.KeyMsg, tea.MouseMsg, tea.WindowSizeMsg:
		return true
	default:
		return false
	}
}

func matchesMessageType[T tea.Model](msg tea.Msg, step TestStep[T]) bool {
	if step.ExpectedMsgType != nil {
		return reflect.TypeOf(msg) == reflect.TypeOf(step.ExpectedMsgType)
	}
	return !isFrameworkMessage(msg)
}

// normalizeView trims surrounding whitespace and normalizes line endings so
// golden files stay stable.
func normalizeView(view string) string {
	view = strings.TrimSpace(view)
	return strings.ReplaceAll(view, "\r\n", "\n")
}
