// Package kube turns emulator jobs into batch/v1 Job objects so that a
// simulated run can be replayed against a real cluster.
package kube

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"

	"github.com/g-uva/sgesim/pkg/core"
)

const (
	AnnotationJobID     = "sgesim.g-uva.io/job-id"
	AnnotationRuntime   = "sgesim.g-uva.io/runtime"
	AnnotationRemaining = "sgesim.g-uva.io/remaining"
	LabelStatus         = "sgesim.g-uva.io/status"
)

// Options control how simulated time maps onto the manifests.
type Options struct {
	Namespace string
	Image     string
	// TimeUnit is the wall-clock length of one simulated time unit.
	TimeUnit time.Duration
	// Epoch is the wall-clock time of simulated time zero.
	Epoch time.Time
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = "default"
	}
	if o.Image == "" {
		o.Image = "busybox:1.36"
	}
	if o.TimeUnit <= 0 {
		o.TimeUnit = time.Second
	}
	return o
}

func (o Options) at(t int64) *metav1.Time {
	mt := metav1.NewTime(o.Epoch.Add(time.Duration(t) * o.TimeUnit))
	return &mt
}

// ToBatchJob builds the Job a grid job corresponds to. Held jobs are
// suspended; running and finished jobs carry a matching status.
func ToBatchJob(v core.JobView, opts Options) *batchv1.Job {
	opts = opts.withDefaults()
	name := ObjectName(v.ID)
	seconds := int64((time.Duration(v.Runtime) * opts.TimeUnit).Seconds())
	if seconds < 1 {
		seconds = 1
	}

	job := &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: opts.Namespace,
			Labels:    map[string]string{LabelStatus: v.Status.String()},
			Annotations: map[string]string{
				AnnotationJobID:     v.ID,
				AnnotationRuntime:   strconv.FormatInt(v.Runtime, 10),
				AnnotationRemaining: strconv.FormatInt(v.Remaining, 10),
			},
			CreationTimestamp: *opts.at(v.SubmitAt),
		},
		Spec: batchv1.JobSpec{
			Suspend:      boolPtr(v.Status == core.StatusHold),
			BackoffLimit: int32Ptr(0),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:    "job",
						Image:   opts.Image,
						Command: []string{"sleep", strconv.FormatInt(seconds, 10)},
					}},
				},
			},
		},
	}

	switch v.Status {
	case core.StatusRunning:
		job.Status.Active = 1
		job.Status.StartTime = opts.at(v.StartAt)
	case core.StatusFinished:
		job.Status.Succeeded = 1
		job.Status.StartTime = opts.at(v.StartAt)
		job.Status.CompletionTime = opts.at(v.EndAt)
		job.Status.Conditions = []batchv1.JobCondition{{
			Type:               batchv1.JobComplete,
			Status:             corev1.ConditionTrue,
			LastTransitionTime: *opts.at(v.EndAt),
		}}
	case core.StatusHold:
		job.Status.Conditions = []batchv1.JobCondition{{
			Type:   batchv1.JobSuspended,
			Status: corev1.ConditionTrue,
			Reason: "JobHeld",
		}}
	}
	return job
}

// StatusOf reads a Job produced by ToBatchJob back into an emulator status.
func StatusOf(job *batchv1.Job) core.Status {
	switch {
	case job == nil:
		return core.StatusAbsent
	case job.Spec.Suspend != nil && *job.Spec.Suspend:
		return core.StatusHold
	case job.Status.Succeeded > 0:
		return core.StatusFinished
	case job.Status.Active > 0:
		return core.StatusRunning
	}
	return core.StatusQueued
}

func ToJobList(views []core.JobView, opts Options) *batchv1.JobList {
	list := &batchv1.JobList{TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "JobList"}}
	for _, v := range views {
		list.Items = append(list.Items, *ToBatchJob(v, opts))
	}
	return list
}

// WriteJobList writes views as an indented JSON JobList, which kubectl
// accepts with `kubectl apply -f`.
func WriteJobList(w io.Writer, views []core.JobView, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ToJobList(views, opts))
}

// ObjectName maps a job id onto a valid DNS-1123 label. Ids that need
// rewriting get a hash suffix so distinct ids never share a name.
func ObjectName(id string) string {
	if len(validation.IsDNS1123Label(id)) == 0 {
		return id
	}

	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	suffix := fmt.Sprintf("%08x", h.Sum32())

	base := b.String()
	if max := validation.DNS1123LabelMaxLength - len(suffix) - 1; len(base) > max {
		base = base[:max]
	}
	base = strings.Trim(base, "-")
	if base == "" {
		base = "sgesim-job"
	}
	return base + "-" + suffix
}

func boolPtr(b bool) *bool    { return &b }
func int32Ptr(i int32) *int32 { return &i }
