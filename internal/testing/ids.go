package testing

// Pairs splits userIDs into pairs of the first id with each other one, the participant lists of
// individual chats, e.g. [0, 1, 2, 3] -> [[0,1], [0,2], [0,3]]
func Pairs(userIDs []int64) [][]int64 {
	if len(userIDs) < 2 {
		return nil
	}
	pairs := make([][]int64, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		pairs = append(pairs, []int64{userIDs[0], userIDs[i]})
	}
	return pairs
}

// NewestFirst returns ids in reverse insertion order, the order projections list documents in
func NewestFirst(ids []int64) []int64 {
	reversed := make([]int64, len(ids))
	copy(reversed, ids)

	for i := len(reversed)/2 - 1; i >= 0; i-- {
		opp := len(reversed) - 1 - i
		reversed[i], reversed[opp] = reversed[opp], reversed[i]
	}
	return reversed
}
