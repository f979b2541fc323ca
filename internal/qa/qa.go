// Package qa evaluates if pull requests are ready to be merged and
// reconciles their labels, status comment and check run with the result.
package qa

import (
	"fmt"
	"slices"

	"github.com/dionisio-bot/dionisio/internal/orderedset"
	"github.com/dionisio-bot/dionisio/internal/semverutil"
)

const (
	LabelQAAssured    = "stat: QA assured"
	LabelReadyToMerge = "stat: ready to merge"
	LabelConflict     = "stat: conflict"
	LabelInvalidTitle = "Invalid PR Title"

	// Deprecated labels, they are replaced by LabelQAAssured.
	LabelQATested  = "stat: QA tested"
	LabelQASkipped = "stat: QA skipped"
)

const mergeableStateDirty = "dirty"

// Mergeable is the mergeability of a pull request computed by github.
type Mergeable int

const (
	// MergeableUnknown means github did not compute the mergeability yet.
	MergeableUnknown Mergeable = iota
	MergeableTrue
	MergeableFalse
)

// MergeableFromPtr converts the optional mergeable field of the github API
// to a Mergeable.
func MergeableFromPtr(v *bool) Mergeable {
	switch {
	case v == nil:
		return MergeableUnknown
	case *v:
		return MergeableTrue
	default:
		return MergeableFalse
	}
}

func (m Mergeable) String() string {
	switch m {
	case MergeableTrue:
		return "true"
	case MergeableFalse:
		return "false"
	default:
		return "unknown"
	}
}

// PullRequest is the state of a pull request at evaluation time.
type PullRequest struct {
	Number         int
	URL            string
	Title          string
	NodeID         string
	HeadRef        string
	HeadSHA        string
	BaseRef        string
	Mergeable      Mergeable
	MergeableState string
	Labels         []string
	// Milestone is the title of the milestone, empty if none is assigned.
	Milestone string
}

// RepoMeta is release information of the repository that the pull request
// targets.
type RepoMeta struct {
	// ManifestVersion is the version declared in the manifest of the base
	// branch, empty if unknown.
	ManifestVersion    string
	HasTrackingProject bool
}

// Step is the result of a single check.
type Step struct {
	Name   string
	Passed bool
	// Message describes why the check failed, it is empty if it passed.
	Message string
}

type WrongVersion struct {
	// CurrentVersion is the version of the base branch.
	CurrentVersion string
	// TargetVersion is the version from the milestone.
	TargetVersion string
}

// Verdict is the result of evaluating a pull request.
type Verdict struct {
	ReadyToMerge    bool
	Steps           []Step
	Assured         bool
	HasConflicts    bool
	Mergeable       bool
	HasMilestone    bool
	HasInvalidTitle bool
	WrongVersion    *WrongVersion
	// Version is the manifest version without pre-release and build
	// metadata.
	Version        string
	OriginalLabels []string
	NewLabels      []string
}

// LabelsChanged returns true if NewLabels and OriginalLabels contain
// different labels. The order is not considered.
func (v *Verdict) LabelsChanged() bool {
	return !orderedset.New(v.OriginalLabels...).Equal(orderedset.New(v.NewLabels...))
}

func canonicalizeLabels(labels []string) *orderedset.Set[string] {
	result := orderedset.New[string]()

	for _, l := range labels {
		if l == LabelQATested || l == LabelQASkipped {
			result.Add(LabelQAAssured)
			continue
		}

		result.Add(l)
	}

	return result
}

// Evaluate runs all checks for the pull request.
// An error is returned if meta.ManifestVersion is set and is not a valid
// semantic version.
func Evaluate(pr *PullRequest, meta *RepoMeta) (*Verdict, error) {
	var manifestVersion string

	if meta.ManifestVersion != "" {
		v, err := semverutil.ManifestVersion(meta.ManifestVersion)
		if err != nil {
			return nil, fmt.Errorf("manifest version: %w", err)
		}

		manifestVersion = v.String()
	}

	labels := canonicalizeLabels(pr.Labels)

	hasConflicts := pr.MergeableState == mergeableStateDirty
	hasInvalidTitle := labels.Contains(LabelInvalidTitle)
	assured := labels.Contains(LabelQAAssured)
	// unknown mergeability passes this check, ReadyToMerge requires it to
	// be known
	mergeable := pr.Mergeable != MergeableFalse && !hasConflicts
	hasMilestone := pr.Milestone != "" || meta.HasTrackingProject

	var wrongVersion *WrongVersion
	if targetVersion, ok := semverutil.FindVersion(pr.Milestone); ok && manifestVersion != "" {
		same, err := semverutil.SameMinor(targetVersion, manifestVersion)
		if err != nil {
			return nil, fmt.Errorf("comparing milestone version with manifest version: %w", err)
		}

		if !same {
			wrongVersion = &WrongVersion{
				CurrentVersion: manifestVersion,
				TargetVersion:  targetVersion,
			}
		}
	}

	steps := []Step{
		newStep("No merge conflicts", !hasConflicts, "This PR has conflicts, please resolve them before merging"),
		newStep("QA assured", assured, fmt.Sprintf("This PR is missing the '%s' label", LabelQAAssured)),
		newStep("Mergeable", mergeable, "This PR is not mergeable"),
		newStep("Has milestone or project", hasMilestone, "This PR is missing the required milestone or project"),
		newStep("Valid PR title", !hasInvalidTitle, "This PR has an invalid title"),
		newStep("Correct target version", wrongVersion == nil, wrongVersion.message()),
	}

	readyToMerge := !hasConflicts &&
		assured &&
		pr.Mergeable == MergeableTrue &&
		hasMilestone &&
		!hasInvalidTitle &&
		wrongVersion == nil

	newLabels := labels.Clone()
	newLabels.Add(LabelReadyToMerge, LabelConflict)
	if !readyToMerge {
		newLabels.Remove(LabelReadyToMerge)
	}
	if !hasConflicts {
		newLabels.Remove(LabelConflict)
	}

	return &Verdict{
		ReadyToMerge:    readyToMerge,
		Steps:           steps,
		Assured:         assured,
		HasConflicts:    hasConflicts,
		Mergeable:       mergeable,
		HasMilestone:    hasMilestone,
		HasInvalidTitle: hasInvalidTitle,
		WrongVersion:    wrongVersion,
		Version:         manifestVersion,
		OriginalLabels:  slices.Clone(pr.Labels),
		NewLabels:       newLabels.Slice(),
	}, nil
}

func newStep(name string, passed bool, failMsg string) Step {
	s := Step{Name: name, Passed: passed}
	if !passed {
		s.Message = failMsg
	}

	return s
}

func (w *WrongVersion) message() string {
	if w == nil {
		return ""
	}

	return fmt.Sprintf("Targeting wrong base: should target %s, but targets %s", w.TargetVersion, w.CurrentVersion)
}
