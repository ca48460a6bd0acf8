package account

import "time"

// Account is the persisted credential record. PasswordHash and RefreshToken
// never leave the service; use View for anything written to a response.
type Account struct {
	ID            string
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	AvatarURL     string
	CoverImageURL string
	RefreshToken  string
	WatchHistory  []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type View struct {
	ID            string    `json:"_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	FullName      string    `json:"fullName"`
	AvatarURL     string    `json:"avatar"`
	CoverImageURL string    `json:"coverImage"`
	WatchHistory  []string  `json:"watchHistory"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (a Account) View() View {
	history := a.WatchHistory
	if history == nil {
		history = []string{}
	}
	return View{
		ID:            a.ID,
		Username:      a.Username,
		Email:         a.Email,
		FullName:      a.FullName,
		AvatarURL:     a.AvatarURL,
		CoverImageURL: a.CoverImageURL,
		WatchHistory:  history,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

// MediaField names an Account column that points into the remote asset store.
type MediaField string

const (
	FieldAvatar     MediaField = "avatar"
	FieldCoverImage MediaField = "coverImage"
)

func (f MediaField) Valid() bool {
	return f == FieldAvatar || f == FieldCoverImage
}

func (a Account) MediaURL(field MediaField) string {
	switch field {
	case FieldAvatar:
		return a.AvatarURL
	case FieldCoverImage:
		return a.CoverImageURL
	default:
		return ""
	}
}

// ChannelView is the public projection of an Account plus subscription stats.
type ChannelView struct {
	ID                        string `json:"_id"`
	Username                  string `json:"username"`
	Email                     string `json:"email"`
	FullName                  string `json:"fullName"`
	AvatarURL                 string `json:"avatar"`
	CoverImageURL             string `json:"coverImage"`
	SubscribersCount          int64  `json:"subscribersCount"`
	ChannelsSubscribedToCount int64  `json:"channelsSubscribedToCount"`
	IsSubscribed              bool   `json:"isSubscribed"`
}
