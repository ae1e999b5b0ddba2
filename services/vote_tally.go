package services

import "github.com/qianlnk/mafia/models"

// TallyNominations 得票最多的被提名者；平票时最早被提名的人胜出
func TallyNominations(n *models.Nominations) (string, bool) {
	if n == nil || !n.HasAny() {
		return "", false
	}

	best, bestVotes := "", 0
	for _, nominee := range n.Order() {
		if votes := len(n.VotersOf(nominee)); votes > bestVotes {
			best, bestVotes = nominee, votes
		}
	}
	return best, bestVotes > 0
}

// TallyExecution 有效投票中有罪票过半则处决，弃权不计入分母
func TallyExecution(votes map[string]bool, eligible []string) bool {
	guilty, cast := 0, 0
	for _, voter := range eligible {
		vote, ok := votes[voter]
		if !ok {
			continue
		}
		cast++
		if vote {
			guilty++
		}
	}
	return cast > 0 && guilty*2 > cast
}
