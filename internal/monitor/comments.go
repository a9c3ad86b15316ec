package monitor

import (
	"context"

	"github.com/prwatch/prwatch/internal/forge"
)

// ClassifiedComments partitions review comments into those that plausibly
// concern the PR's own changes and those about unrelated code.
type ClassifiedComments struct {
	InScope    []forge.Comment
	OutOfScope []forge.Comment
}

// Any reports whether any comments exist in either partition. Early exit
// triggers on feedback in either one.
func (c ClassifiedComments) Any() bool {
	return len(c.InScope) > 0 || len(c.OutOfScope) > 0
}

// CommentClassifier partitions a PR's review comments by whether their file
// path is among the files the PR touches. General discussion comments and
// inline comments on untouched files land out of scope.
type CommentClassifier struct {
	forge forge.Forge
}

// NewCommentClassifier returns a classifier backed by the given forge.
func NewCommentClassifier(f forge.Forge) *CommentClassifier {
	return &CommentClassifier{forge: f}
}

// Classify fetches the PR's comments and changed files and partitions the
// inline review comments. Review-request comments and the monitor's own
// chatter are not review feedback and are skipped.
func (cc *CommentClassifier) Classify(ctx context.Context, pr forge.PR) (*ClassifiedComments, error) {
	comments, err := cc.forge.ListComments(ctx, pr)
	if err != nil {
		return nil, err
	}

	files, err := cc.forge.ChangedFiles(ctx, pr)
	if err != nil {
		return nil, err
	}
	changed := make(map[string]bool, len(files))
	for _, f := range files {
		changed[f] = true
	}

	result := &ClassifiedComments{}
	for _, c := range comments {
		if isReviewRequestComment(c) {
			continue
		}
		if c.FilePath != "" && changed[c.FilePath] {
			result.InScope = append(result.InScope, c)
		} else {
			result.OutOfScope = append(result.OutOfScope, c)
		}
	}
	return result, nil
}

// isReviewRequestComment reports whether a comment is a review request
// rather than review feedback.
func isReviewRequestComment(c forge.Comment) bool {
	return isCodexRequestBody(c.Body)
}
