package internal

import (
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/google/uuid"
	apperrors "github.com/koopa0/letterduel/pkg/errors"
)

const (
	// MinDifficulty 骰子最小點數對應的難度
	MinDifficulty = 1
	// MaxDifficulty 骰子最大點數對應的難度
	MaxDifficulty = 6
)

// Question 一道題目
//
// Letter 為題目所屬字母（答案的第一個字母），Difficulty 對應骰子點數 1-6。
// 題目一經建立即不可變。
type Question struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Answer     string `json:"answer"`
	Letter     string `json:"letter"`
	Difficulty int    `json:"difficulty"`
	Points     int    `json:"points"`
}

// MatchesAnswer 比對玩家答案（不區分大小寫、忽略前後空白）
func (q *Question) MatchesAnswer(answer string) bool {
	return strings.EqualFold(q.Answer, strings.TrimSpace(answer))
}

// SelectQuestion 從候選池中為 (字母, 難度) 選出一題
//
// 過濾規則：字母不區分大小寫比對、難度相等。
// 候選集非空時均勻隨機選一題；為空時返回 nil —— 這是
// 預期內的合法結果（題庫覆蓋不全），不是錯誤。
func SelectQuestion(letter rune, difficulty int, pool []Question) *Question {
	var matching []Question
	target := unicode.ToUpper(letter)
	for _, q := range pool {
		if q.Difficulty != difficulty {
			continue
		}
		if len(q.Letter) == 0 {
			continue
		}
		if unicode.ToUpper(rune(q.Letter[0])) == target {
			matching = append(matching, q)
		}
	}

	if len(matching) == 0 {
		return nil
	}

	selected := matching[rand.IntN(len(matching))]
	return &selected
}

// BuildCurriculum 為一場對局建立題目課程表
//
// 演算法（與對局建立時一次性執行，之後每回合只在課程表內過濾）：
//  1. 依字母分組候選池
//  2. 對每個字母 A-Z，再依難度 1-6 分桶
//  3. 每個非空的 (字母, 難度) 桶中均勻隨機取一題
//  4. 按字母順序追加，無候選的桶直接跳過
//
// 題庫覆蓋不全時結果少於 26 個字母，呼叫方必須接受這一點。
func BuildCurriculum(pool []Question) []Question {
	byLetter := make(map[rune][]Question)
	for _, q := range pool {
		if len(q.Letter) == 0 {
			continue
		}
		byLetter[unicode.ToUpper(rune(q.Letter[0]))] = append(byLetter[unicode.ToUpper(rune(q.Letter[0]))], q)
	}

	var curriculum []Question
	for letter := FirstLetter; letter <= LastLetter; letter++ {
		forLetter := byLetter[letter]
		if len(forLetter) == 0 {
			continue
		}

		byDifficulty := make(map[int][]Question)
		for _, q := range forLetter {
			byDifficulty[q.Difficulty] = append(byDifficulty[q.Difficulty], q)
		}

		for difficulty := MinDifficulty; difficulty <= MaxDifficulty; difficulty++ {
			bucket := byDifficulty[difficulty]
			if len(bucket) == 0 {
				continue
			}
			curriculum = append(curriculum, bucket[rand.IntN(len(bucket))])
		}
	}

	return curriculum
}

// RollDice 擲骰，均勻返回 1-6
func RollDice() int {
	return rand.IntN(MaxDifficulty) + 1
}

// NewQuestion 建立題目，字母由答案的第一個字母推導
func NewQuestion(text, answer string, difficulty, points int) (*Question, error) {
	text = strings.TrimSpace(text)
	answer = strings.TrimSpace(answer)

	if text == "" || answer == "" {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "question text and answer are required")
	}
	if difficulty < MinDifficulty || difficulty > MaxDifficulty {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "difficulty must be between 1 and 6")
	}
	if points <= 0 {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "points must be positive")
	}

	letter := unicode.ToUpper(rune(answer[0]))
	if letter < FirstLetter || letter > LastLetter {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "answer must start with a letter A-Z")
	}

	return &Question{
		ID:         uuid.NewString(),
		Text:       text,
		Answer:     answer,
		Letter:     string(letter),
		Difficulty: difficulty,
		Points:     points,
	}, nil
}
