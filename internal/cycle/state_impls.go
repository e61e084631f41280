package cycle

// IdleState - no cycle in progress
type IdleState struct{}

func (s *IdleState) Name() string { return "idle" }
func (s *IdleState) ToAuthenticating() *AuthenticatingState {
	return &AuthenticatingState{}
}

// AuthenticatingState - obtaining a settlement token
type AuthenticatingState struct{}

func (s *AuthenticatingState) Name() string { return "authenticating" }
func (s *AuthenticatingState) ToExtracting() *ExtractingState {
	return &ExtractingState{}
}
func (s *AuthenticatingState) ToFailed() *FailedState {
	return &FailedState{}
}

// ExtractingState - claiming and formatting pending records
type ExtractingState struct{}

func (s *ExtractingState) Name() string { return "extracting" }
func (s *ExtractingState) ToSubmitting() *SubmittingState {
	return &SubmittingState{}
}
func (s *ExtractingState) ToRecording() *RecordingState {
	return &RecordingState{}
}
func (s *ExtractingState) ToFailed() *FailedState {
	return &FailedState{}
}

// SubmittingState - delivering chunks to the settlement service
type SubmittingState struct{}

func (s *SubmittingState) Name() string { return "submitting" }
func (s *SubmittingState) ToRecording() *RecordingState {
	return &RecordingState{}
}
func (s *SubmittingState) ToFailed() *FailedState {
	return &FailedState{}
}

// RecordingState - writing delivery outcomes back to the store
type RecordingState struct{}

func (s *RecordingState) Name() string { return "recording" }
func (s *RecordingState) ToIdle() *IdleState {
	return &IdleState{}
}

// FailedState - resolving claims after a cycle-level fault
type FailedState struct{}

func (s *FailedState) Name() string { return "failed" }
func (s *FailedState) ToIdle() *IdleState {
	return &IdleState{}
}
