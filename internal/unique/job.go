package unique

import (
	"reflect"

	"github.com/cuongbtq/unique-jobs/internal/domain"
)

// Job is a queue job seen through the deduplication layer. The unique
// payload is held in memory only; it is never written back into the
// underlying job row.
type Job struct {
	*domain.Job

	unique *attachment
}

type attachment struct {
	payload any
}

// NewJob returns a job that has not been persisted yet
func NewJob(userID, jobType, payload string) *Job {
	return &Job{Job: &domain.Job{
		UserID:  userID,
		JobType: jobType,
		Payload: payload,
	}}
}

// Wrap decorates a job loaded or built by the queue
func Wrap(job *domain.Job) *Job {
	return &Job{Job: job}
}

// UniquePayload returns the payload the job was marked unique with
func (j *Job) UniquePayload() (any, bool) {
	if j.unique == nil {
		return nil, false
	}
	return j.unique.payload, true
}

// IsUnique reports whether a unique payload is attached
func (j *Job) IsUnique() bool {
	return j.unique != nil
}

// deepCopy clones nested maps and slices so later mutation by the caller
// cannot change the job's identity
func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	return copyValue(reflect.ValueOf(v)).Interface()
}

func copyValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		c := copyValue(v.Elem())
		out := reflect.New(v.Type()).Elem()
		out.Set(c)
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(copyValue(v.Index(i)))
		}
		return out
	default:
		return v
	}
}
