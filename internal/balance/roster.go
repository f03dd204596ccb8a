package balance

import (
	"bytes"
	"encoding/json"

	"github.com/hitoshi/shaft/internal/model"
)

// Roster は残高付きユーザー一覧。順序を保持したまま、IDでの参照もできる。
type Roster struct {
	users []*model.User
	index map[string]*model.User
}

func newRoster(users []*model.User) *Roster {
	sorted := make([]*model.User, len(users))
	copy(sorted, users)
	sortUsers(sorted)

	index := make(map[string]*model.User, len(sorted))
	for _, u := range sorted {
		index[u.ID] = u
	}
	return &Roster{users: sorted, index: index}
}

// Users は残高の昇順に並んだユーザーを返す。
func (r *Roster) Users() []*model.User {
	out := make([]*model.User, len(r.users))
	copy(out, r.users)
	return out
}

// Get はユーザーIDでエントリを参照する。
func (r *Roster) Get(userID string) (*model.User, bool) {
	u, ok := r.index[userID]
	return u, ok
}

// Len はユーザー数を返す。
func (r *Roster) Len() int {
	return len(r.users)
}

// MarshalJSON はユーザーIDをキーとするオブジェクトを、残高の昇順を保ったまま出力する。
func (r *Roster) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, u := range r.users {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(u.ID)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(u)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
