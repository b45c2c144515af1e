package model

import "strings"

// SubjectMatch is one candidate subject for a detected face box.
type SubjectMatch struct {
	Subject    string
	Similarity float64
}

// Face is a raw detection box as reported by the recognition service,
// before any thresholding.
type Face struct {
	Probability float64
	Subjects    []SubjectMatch
}

// Match is one detected face reduced to its best subject candidate.
type Match struct {
	Subject    string
	Similarity float64
	Confident  bool
}

// RecognitionResult is the thresholded outcome of recognizing one image.
type RecognitionResult struct {
	Recognized bool
	Matches    []Match
}

// Thresholds groups the two cutoffs the classification rules depend on.
type Thresholds struct {
	// DetectionProbability is the minimum box probability for a detection
	// to count as a face at all.
	DetectionProbability float64
	// Confidence is the minimum subject similarity for a match to count as
	// confidently recognized.
	Confidence float64
}

// DefaultThresholds returns the nominal cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DetectionProbability: 0.9,
		Confidence:           0.95,
	}
}

// Evaluate reduces raw face boxes to a recognition result. A box counts as a
// face only when its probability reaches the detection cutoff; within a face
// the best-matching subject is kept. A face without subject candidates is an
// unconfident match.
func (t Thresholds) Evaluate(faces []Face) RecognitionResult {
	var result RecognitionResult
	for _, face := range faces {
		if face.Probability < t.DetectionProbability {
			continue
		}
		var best SubjectMatch
		for _, s := range face.Subjects {
			if s.Similarity > best.Similarity || best.Subject == "" {
				best = s
			}
		}
		result.Matches = append(result.Matches, Match{
			Subject:    best.Subject,
			Similarity: best.Similarity,
			Confident:  best.Subject != "" && best.Similarity >= t.Confidence,
		})
	}
	result.Recognized = len(result.Matches) > 0
	return result
}

// Classification is the set of target groups derived from one recognition
// result.
type Classification struct {
	// Subjects lists the distinct confidently recognized subjects.
	Subjects []string
	// NeedRecognition marks the item for the manual-triage bucket.
	NeedRecognition bool
	// Other marks the item as containing no face.
	Other bool
	// Unconfident reports whether any detected face stayed below the
	// confidence cutoff. On a re-recognition pass this keeps the item in
	// its current bucket.
	Unconfident bool
}

// Classify applies the grouping rules to a recognition result. On a
// re-recognition pass the item is never re-added to the need-recognition
// bucket.
func Classify(result RecognitionResult, reRecognition bool) Classification {
	if !result.Recognized {
		return Classification{Other: true}
	}

	var c Classification
	seen := make(map[string]bool)
	for _, m := range result.Matches {
		if !m.Confident {
			c.Unconfident = true
			continue
		}
		key := strings.ToLower(m.Subject)
		if seen[key] {
			continue
		}
		seen[key] = true
		c.Subjects = append(c.Subjects, m.Subject)
	}

	if c.Unconfident && !reRecognition {
		c.NeedRecognition = true
	}
	return c
}
