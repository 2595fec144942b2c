package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"testline/internal/domain"
	"testline/internal/events"
	"testline/internal/importer"
	"testline/internal/repo"
)

func (e Engine) uploadLimits() importer.Limits {
	c := e.cfg()
	return importer.Limits{MaxBytes: c.Import.MaxUploadBytes, Extensions: c.Import.AllowedExtensions}
}

// CheckUpload applies the configured extension and size limits.
func (e Engine) CheckUpload(filename string, size int64) error {
	return importer.CheckUpload(filename, size, e.uploadLimits())
}

// ImportTestCases reads a workbook and creates draft test cases under the
// story. Pipeline failures come back in the result; the error is reserved for
// a missing scope, an unknown story or a story the user does not own, in
// which case nothing was attempted.
func (e Engine) ImportTestCases(ctx context.Context, scope domain.Scope, storyID, filename string, size int64, r io.Reader) (res importer.Result, err error) {
	log := e.log().With(zap.String("user_id", scope.UserID), zap.String("story_id", storyID), zap.String("file", filename))
	defer func() {
		if p := recover(); p != nil {
			log.Error("import panicked", zap.Any("panic", p))
			res, err = importer.Failed(fmt.Sprintf("Unexpected error during import: %v", p)), nil
		}
	}()

	if err := scope.Validate(); err != nil {
		return importer.Failed(err.Error()), err
	}
	if err := e.CheckUpload(filename, size); err != nil {
		return importer.Failed(err.Error()), nil
	}
	owner, err := e.Auth.RequireOwner(ctx, nil, scope, repo.KindStory, storyID)
	if err != nil {
		return importer.Failed(err.Error()), err
	}

	rows, err := importer.Parse(r)
	if err != nil {
		log.Warn("import rejected", zap.Error(err))
		res := importer.Failed(err.Error())
		var ie *importer.Error
		if errors.As(err, &ie) && len(ie.Rows) > 0 {
			res.RowErrors = ie.Rows
		}
		return res, nil
	}

	cases, rowErrs := importer.Build(rows, importer.Target{
		StoryID: storyID,
		OwnerID: scope.UserID,
		Now:     e.stamp(),
		NewID:   e.newID,
	})
	res = importer.Result{RowErrors: rowErrs}
	if res.RowErrors == nil {
		res.RowErrors = []string{}
	}

	tx, err := e.begin(ctx, scope)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if len(cases) > 0 {
		if err := e.Repo.InsertTestCases(ctx, tx, cases); err != nil {
			log.Error("import insert failed", zap.Int("count", len(cases)), zap.Error(err))
			failed := importer.Failed(fmt.Sprintf("Error saving test cases to database: %v", err))
			failed.RowErrors = res.RowErrors
			return failed, nil
		}
	}
	payload := events.EventPayload{"created": len(cases), "skipped": len(rowErrs), "file": filename}
	if err := e.emit(ctx, tx, events.TestCasesImported, owner.ProjectID, repo.KindStory, storyID, scope, payload); err != nil {
		return importer.Failed(err.Error()), nil
	}
	if err := tx.Commit(); err != nil {
		log.Error("import commit failed", zap.Error(err))
		return importer.Failed(fmt.Sprintf("Error saving test cases to database: %v", err)), nil
	}

	res.Success = true
	res.CreatedCount = len(cases)
	for _, tc := range cases {
		res.CreatedIDs = append(res.CreatedIDs, tc.ID)
	}
	if len(rowErrs) > 0 {
		log.Warn("import completed with row errors", zap.Int("count", len(cases)), zap.Int("errors", len(rowErrs)))
	} else {
		log.Info("import completed", zap.Int("count", len(cases)))
	}
	return res, nil
}

// ImportTemplate returns the sample workbook users fill in for import.
func (e Engine) ImportTemplate() ([]byte, error) {
	return importer.Template()
}
