package types

import "context"

// TranslateRequest carries one translation call's input and context.
type TranslateRequest struct {
	// Input is the raw user text (or the augmented goal prompt in
	// iterative mode).
	Input string

	// WorkingDir and Profile feed the cache context fingerprint.
	WorkingDir string
	Profile    string

	// Trail is the serialized observation summary appended to the goal
	// by the GoalLoop; empty for one-shot translation.
	Trail string
}

// Translator converts natural language into intent IR and reflects on
// execution trails. Implementations stream internally; both calls block
// until the full structured result is assembled and must honor ctx
// cancellation between chunks.
type Translator interface {
	Translate(ctx context.Context, req TranslateRequest) (*IntentIR, error)
	Reflect(ctx context.Context, goal string, trail string) (*Reflection, error)
}

// Interactor surfaces confirmation prompts to whatever front-end owns the
// session. A nil Interactor means "never ask, always proceed".
type Interactor interface {
	// Confirm presents a yes/no prompt. Returning false aborts the
	// pending operation.
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoApprove is an Interactor that accepts every prompt. Used by
// non-interactive front-ends and tests.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, string) (bool, error) { return true, nil }
