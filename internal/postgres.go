package internal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

// PostgresStore PostgreSQL 實體儲存
//
// 系統設計考量：
//   - 使用 pgxpool 連線池而非單一連線
//   - 對局的課程表以 TEXT[] 欄位存題目 ID（外鍵式引用），
//     當前題目在讀取時 LEFT JOIN 解析成快照
//   - SaveGame 的樂觀鎖落在 UPDATE ... WHERE version = $n，
//     影響行數為 0 即版本衝突，配對競爭在資料庫層裁決
//   - 所有錯誤分類：查無 → NOT_FOUND，其餘（逾時、連線）
//     → SERVICE_UNAVAILABLE，呼叫方可視情況有界重試
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 創建 PostgreSQL 儲存
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const gameColumns = `
	g.id, g.status, g.first_user, g.first_user_points,
	COALESCE(g.second_user, ''), g.second_user_points,
	g.first_wrong_guesses, g.second_wrong_guesses,
	COALESCE(g.winner, ''), g.curriculum_ids,
	g.current_letter, g.current_dice,
	g.first_session_token, COALESCE(g.second_session_token, ''),
	g.created_at, g.finished_at, g.version,
	q.id, q.text, q.answer, q.letter, q.difficulty, q.points`

const gameFrom = `
	FROM games g
	LEFT JOIN questions q ON q.id = g.current_question_id`

// GetUser 取得玩家
func (s *PostgresStore) GetUser(ctx context.Context, username string) (*User, error) {
	var user User
	err := s.pool.QueryRow(ctx,
		`SELECT username, score, created_at FROM users WHERE username = $1`,
		username,
	).Scan(&user.Username, &user.Score, &user.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrUserNotFound.WithDetails(username)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "get user")
	}
	return &user, nil
}

// SaveUser 新增或更新玩家
func (s *PostgresStore) SaveUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, score, created_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE SET score = EXCLUDED.score`,
		user.Username, user.Score, user.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "save user")
	}
	return nil
}

// TopUsers 依累計積分排序返回前 limit 位玩家
func (s *PostgresStore) TopUsers(ctx context.Context, limit int) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, score, created_at FROM users
		 ORDER BY score DESC, username ASC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "top users")
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.Username, &user.Score, &user.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "scan user")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "top users")
	}
	return users, nil
}

// AllQuestions 返回完整題目池
func (s *PostgresStore) AllQuestions(ctx context.Context) ([]Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, answer, letter, difficulty, points FROM questions`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "all questions")
	}
	defer rows.Close()

	return scanQuestions(rows)
}

// QuestionsByIDs 依 ID 批次取題
func (s *PostgresStore) QuestionsByIDs(ctx context.Context, ids []string) ([]Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, text, answer, letter, difficulty, points
		 FROM questions WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "questions by ids")
	}
	defer rows.Close()

	return scanQuestions(rows)
}

// SaveQuestion 新增題目
func (s *PostgresStore) SaveQuestion(ctx context.Context, question *Question) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO questions (id, text, answer, letter, difficulty, points)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		question.ID, question.Text, question.Answer,
		question.Letter, question.Difficulty, question.Points,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "save question")
	}
	return nil
}

// GetGame 取得對局
func (s *PostgresStore) GetGame(ctx context.Context, id string) (*Game, error) {
	game, err := s.queryGame(ctx, `SELECT`+gameColumns+gameFrom+` WHERE g.id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrGameNotFound.WithDetails(id)
	}
	return game, err
}

// SaveGame 以樂觀鎖寫入對局
func (s *PostgresStore) SaveGame(ctx context.Context, game *Game) (*Game, error) {
	var questionID *string
	if game.CurrentQuestion != nil {
		questionID = &game.CurrentQuestion.ID
	}

	if game.Version == 0 {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO games (
				id, status, first_user, first_user_points,
				second_user, second_user_points,
				first_wrong_guesses, second_wrong_guesses,
				winner, curriculum_ids, current_question_id,
				current_letter, current_dice,
				first_session_token, second_session_token,
				created_at, finished_at, version
			) VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,NULLIF($9,''),$10,$11,$12,$13,$14,NULLIF($15,''),$16,$17,1)`,
			game.ID, game.Status, game.FirstUser, game.FirstUserPoints,
			game.SecondUser, game.SecondUserPoints,
			game.FirstWrongGuesses, game.SecondWrongGuesses,
			game.Winner, game.CurriculumIDs, questionID,
			game.CurrentLetter, game.CurrentDice,
			game.FirstSessionToken, game.SecondSessionToken,
			game.CreatedAt, game.FinishedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, apperrors.ErrVersionConflict.WithDetails(game.ID)
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "insert game")
		}

		saved := *copyGame(*game)
		saved.Version = 1
		return &saved, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE games SET
			status = $2, first_user_points = $3,
			second_user = NULLIF($4,''), second_user_points = $5,
			first_wrong_guesses = $6, second_wrong_guesses = $7,
			winner = NULLIF($8,''), current_question_id = $9,
			current_letter = $10, current_dice = $11,
			second_session_token = NULLIF($12,''),
			finished_at = $13, version = version + 1
		 WHERE id = $1 AND version = $14`,
		game.ID, game.Status, game.FirstUserPoints,
		game.SecondUser, game.SecondUserPoints,
		game.FirstWrongGuesses, game.SecondWrongGuesses,
		game.Winner, questionID,
		game.CurrentLetter, game.CurrentDice,
		game.SecondSessionToken,
		game.FinishedAt, game.Version,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "update game")
	}
	if tag.RowsAffected() == 0 {
		// 版本不符或對局不存在，對呼叫方都是同一種
		// 「狀態已被別人改走」的結論
		return nil, apperrors.ErrVersionConflict.WithDetails(game.ID)
	}

	saved := *copyGame(*game)
	saved.Version = game.Version + 1
	return &saved, nil
}

// FindOldestOpen 返回最舊的開放對局
func (s *PostgresStore) FindOldestOpen(ctx context.Context) (*Game, error) {
	game, err := s.queryGame(ctx,
		`SELECT`+gameColumns+gameFrom+`
		 WHERE g.status = 'NEW' AND g.second_user IS NULL
		 ORDER BY g.created_at ASC LIMIT 1`)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrGameNotFound.WithDetails("no open game")
	}
	return game, err
}

// FindBySessionToken 憑 session token 反查對局
func (s *PostgresStore) FindBySessionToken(ctx context.Context, token string) (*Game, error) {
	if token == "" {
		return nil, apperrors.ErrGameNotFound.WithDetails("empty session token")
	}

	game, err := s.queryGame(ctx,
		`SELECT`+gameColumns+gameFrom+`
		 WHERE g.first_session_token = $1 OR g.second_session_token = $1
		 LIMIT 1`,
		token)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrGameNotFound.WithDetails("no game for session")
	}
	return game, err
}

// GamesByUser 返回玩家已結束的歷史對局
func (s *PostgresStore) GamesByUser(ctx context.Context, username string) ([]Game, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT`+gameColumns+gameFrom+`
		 WHERE g.status = 'FINISHED'
		   AND (g.first_user = $1 OR g.second_user = $1)
		 ORDER BY g.created_at DESC`,
		username)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "games by user")
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, *game)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "games by user")
	}
	return games, nil
}

// queryGame 執行單行對局查詢
func (s *PostgresStore) queryGame(ctx context.Context, sql string, args ...any) (*Game, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "query game")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "query game")
		}
		return nil, pgx.ErrNoRows
	}
	return scanGame(rows)
}

// scanGame 掃描一行對局（含 LEFT JOIN 的當前題目）
func scanGame(rows pgx.Rows) (*Game, error) {
	var game Game
	var questionID, questionText, questionAnswer, questionLetter *string
	var questionDifficulty, questionPoints *int

	err := rows.Scan(
		&game.ID, &game.Status, &game.FirstUser, &game.FirstUserPoints,
		&game.SecondUser, &game.SecondUserPoints,
		&game.FirstWrongGuesses, &game.SecondWrongGuesses,
		&game.Winner, &game.CurriculumIDs,
		&game.CurrentLetter, &game.CurrentDice,
		&game.FirstSessionToken, &game.SecondSessionToken,
		&game.CreatedAt, &game.FinishedAt, &game.Version,
		&questionID, &questionText, &questionAnswer,
		&questionLetter, &questionDifficulty, &questionPoints,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "scan game")
	}

	if questionID != nil {
		game.CurrentQuestion = &Question{
			ID:         *questionID,
			Text:       *questionText,
			Answer:     *questionAnswer,
			Letter:     *questionLetter,
			Difficulty: *questionDifficulty,
			Points:     *questionPoints,
		}
	}
	return &game, nil
}

// scanQuestions 掃描題目列表
func scanQuestions(rows pgx.Rows) ([]Question, error) {
	var questions []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.Text, &q.Answer, &q.Letter, &q.Difficulty, &q.Points); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "scan question")
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "questions")
	}
	return questions, nil
}
