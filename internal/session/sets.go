package session

import (
	"math/rand/v2"

	"github.com/wordquiz/wordquiz/internal/model"
)

// Partition splits problems into consecutive sets of size n. The last set
// may be smaller.
func Partition(problems []model.StudentProblem, n int) [][]model.StudentProblem {
	if n < 1 {
		n = 1
	}
	var sets [][]model.StudentProblem
	for i := 0; i < len(problems); i += n {
		end := min(i+n, len(problems))
		sets = append(sets, problems[i:end:end])
	}
	return sets
}

// shuffleProblems returns a shuffled copy. The order depends only on seed.
func shuffleProblems(problems []model.StudentProblem, seed uint64) []model.StudentProblem {
	out := append([]model.StudentProblem(nil), problems...)
	r := rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// WordBank returns the words of set in shuffled display order. It is a pure
// function of (seed, setIndex) and the set's contents.
func WordBank(set []model.StudentProblem, seed uint64, setIndex int) []string {
	words := make([]string, len(set))
	for i, p := range set {
		words[i] = p.Word
	}
	r := rand.New(rand.NewPCG(seed, uint64(setIndex)+1))
	r.Shuffle(len(words), func(i, j int) { words[i], words[j] = words[j], words[i] })
	return words
}
