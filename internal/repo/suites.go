package repo

import (
	"context"
	"database/sql"

	"testline/internal/domain"
)

type SuiteFilter struct {
	// ProjectID keeps suites holding at least one case from that project.
	ProjectID string
	Search    string
	Limit     int
	Cursor    Cursor
}

// SuiteStats summarises the member test cases of one suite.
type SuiteStats struct {
	SuiteID           string         `json:"suite_id"`
	Name              string         `json:"name"`
	Total             int            `json:"total"`
	Automated         int            `json:"automated"`
	Manual            int            `json:"manual"`
	ByPriority        map[string]int `json:"by_priority"`
	ByExecutionStatus map[string]int `json:"by_execution_status"`
}

const suiteColumns = `ts.id,ts.name,COALESCE(ts.description,''),ts.owner_id,ts.created_at,ts.updated_at`

func scanSuite(row interface{ Scan(...any) error }) (domain.TestSuite, error) {
	var s domain.TestSuite
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.OwnerID, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) InsertSuite(ctx context.Context, tx *sql.Tx, s domain.TestSuite) error {
	if _, err := r.q(tx).ExecContext(ctx, `INSERT INTO test_suites(id,name,description,owner_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.ID, s.Name, nullable(s.Description), s.OwnerID, s.CreatedAt, s.UpdatedAt); err != nil {
		return err
	}
	return r.addSuiteCases(ctx, tx, s.ID, s.TestCaseIDs)
}

// UpdateSuite rewrites the suite and replaces its membership set.
func (r Repo) UpdateSuite(ctx context.Context, tx *sql.Tx, s domain.TestSuite) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE test_suites SET name=?,description=?,updated_at=? WHERE id=?`,
		s.Name, nullable(s.Description), s.UpdatedAt, s.ID)
	if err := affectedOrNotFound(res, err); err != nil {
		return err
	}
	if _, err := r.q(tx).ExecContext(ctx, `DELETE FROM test_suite_cases WHERE suite_id=?`, s.ID); err != nil {
		return err
	}
	return r.addSuiteCases(ctx, tx, s.ID, s.TestCaseIDs)
}

func (r Repo) addSuiteCases(ctx context.Context, tx *sql.Tx, suiteID string, caseIDs []string) error {
	for _, id := range caseIDs {
		if _, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO test_suite_cases(suite_id,test_case_id) VALUES (?,?)`, suiteID, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) DeleteSuite(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM test_suites WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) suiteCaseIDs(ctx context.Context, tx *sql.Tx, suiteID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT test_case_id FROM test_suite_cases WHERE suite_id=? ORDER BY test_case_id`, suiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) GetSuite(ctx context.Context, scope domain.Scope, id string) (domain.TestSuite, error) {
	return r.GetSuiteTx(ctx, nil, scope, id)
}

func (r Repo) GetSuiteTx(ctx context.Context, tx *sql.Tx, scope domain.Scope, id string) (domain.TestSuite, error) {
	if err := scope.Validate(); err != nil {
		return domain.TestSuite{}, err
	}
	s, err := scanSuite(r.q(tx).QueryRowContext(ctx, `SELECT `+suiteColumns+` FROM test_suites ts WHERE ts.owner_id=? AND ts.id=?`, scope.UserID, id))
	if err != nil {
		return s, err
	}
	s.TestCaseIDs, err = r.suiteCaseIDs(ctx, tx, s.ID)
	return s, err
}

func (r Repo) ListSuites(ctx context.Context, scope domain.Scope, f SuiteFilter) ([]domain.TestSuite, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	clauses := []string{"ts.owner_id=?"}
	args := []any{scope.UserID}
	if f.ProjectID != "" {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM test_suite_cases m
JOIN test_cases tc ON tc.id=m.test_case_id JOIN user_stories s ON s.id=tc.user_story_id
JOIN epics e ON e.id=s.epic_id JOIN projects p ON p.id=e.project_id
WHERE m.suite_id=ts.id AND p.id=? AND `+ownedProjects+`)`)
		args = append(args, f.ProjectID, scope.UserID)
	}
	if f.Search != "" {
		clauses = append(clauses, "(LOWER(ts.name) LIKE ? OR LOWER(COALESCE(ts.description,'')) LIKE ?)")
		args = append(args, likeArg(f.Search), likeArg(f.Search))
	}
	clauses, args = cursorClause("ts", f.Cursor, clauses, args)
	query := `SELECT ` + suiteColumns + ` FROM test_suites ts` + where(clauses) + ` ORDER BY ts.created_at DESC, ts.id DESC` + limitClause(f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.TestSuite
	for rows.Next() {
		s, err := scanSuite(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].TestCaseIDs, err = r.suiteCaseIDs(ctx, nil, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// SuiteStatistics aggregates member cases of every suite the user owns, or of
// a single suite when suiteID is set.
func (r Repo) SuiteStatistics(ctx context.Context, scope domain.Scope, suiteID string) ([]SuiteStats, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT ts.id, ts.name, tc.priority, tc.execution_status, tc.is_automated
FROM test_suites ts
LEFT JOIN test_suite_cases m ON m.suite_id=ts.id
LEFT JOIN test_cases tc ON tc.id=m.test_case_id
WHERE ts.owner_id=?`
	args := []any{scope.UserID}
	if suiteID != "" {
		query += ` AND ts.id=?`
		args = append(args, suiteID)
	}
	query += ` ORDER BY ts.created_at DESC, ts.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var order []string
	stats := map[string]*SuiteStats{}
	for rows.Next() {
		var id, name string
		var priority, execStatus sql.NullString
		var automated sql.NullInt64
		if err := rows.Scan(&id, &name, &priority, &execStatus, &automated); err != nil {
			return nil, err
		}
		st, ok := stats[id]
		if !ok {
			st = &SuiteStats{SuiteID: id, Name: name, ByPriority: map[string]int{}, ByExecutionStatus: map[string]int{}}
			for _, p := range domain.Priorities() {
				st.ByPriority[p] = 0
			}
			stats[id] = st
			order = append(order, id)
		}
		if !priority.Valid {
			continue
		}
		st.Total++
		st.ByPriority[priority.String]++
		st.ByExecutionStatus[execStatus.String]++
		if automated.Int64 != 0 {
			st.Automated++
		} else {
			st.Manual++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if suiteID != "" && len(order) == 0 {
		return nil, ErrNotFound
	}
	res := make([]SuiteStats, 0, len(order))
	for _, id := range order {
		res = append(res, *stats[id])
	}
	return res, nil
}
