package metadata

/** @brief Where the orchestrator is within a single frame. */
type FrameStatus int

const (
	FrameStatusIdle FrameStatus = iota
	FrameStatusRecordingCommands
	FrameStatusSubmitted
	FrameStatusPresenting
)

func (s FrameStatus) String() string {
	switch s {
	case FrameStatusIdle:
		return "idle"
	case FrameStatusRecordingCommands:
		return "recording"
	case FrameStatusSubmitted:
		return "submitted"
	case FrameStatusPresenting:
		return "presenting"
	}
	return "unknown"
}

/** @brief What the application hands the renderer each frame. */
type RenderPacket struct {
	/** @brief Seconds since the previous frame. */
	DeltaTime float64
	/** @brief Seconds since the engine started. */
	Time float64
}
