package metadata

/** Definition for jobs. A returned error routes the job to OnFail. */
type JobStart func() error

/**
 * @brief Determines which job queue a job uses. The high-priority queue is always
 * exhausted first before processing the normal-priority queue, which must also
 * be exhausted before processing the low-priority queue.
 */
type JobPriority int

const (
	/** @brief The lowest-priority job, used for things that can wait to be done if need be, such as texture streaming. */
	JOB_PRIORITY_LOW JobPriority = iota
	/** @brief A normal-priority job, such as gathering an input stream. */
	JOB_PRIORITY_NORMAL
	/** @brief The highest-priority job, such as culling that gathers wait on. */
	JOB_PRIORITY_HIGH
)

func (p JobPriority) String() string {
	switch p {
	case JOB_PRIORITY_LOW:
		return "low"
	case JOB_PRIORITY_NORMAL:
		return "normal"
	case JOB_PRIORITY_HIGH:
		return "high"
	}
	return "unknown"
}

/**
 * @brief Describes a job to be run.
 */
type JobInfo struct {
	/** @brief Used in log lines only. */
	Name string
	/** @brief The priority of this job. Higher priority jobs obviously run sooner. */
	Priority JobPriority
	/** @brief Invoked when the job starts. Required. */
	EntryPoint JobStart
	/** @brief Invoked when the entry point returns nil. Optional. */
	OnSuccess func()
	/** @brief Invoked with the entry point error. Optional. */
	OnFail func(error)
}
