package models

type User struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Email       string  `json:"email"`
	PhotoURL    *string `json:"photo_url,omitempty"`
	IsOrganizer bool    `json:"is_organizer"`
}
