package models

// Project groups members, invitations and tasks. The creator owns it but access is
// granted through Membership records.
type Project struct {
	BaseModel

	Name        string   `gorm:"size:255;not null" json:"name"`
	Description string   `gorm:"type:text" json:"description"`
	CreatorID   uint     `gorm:"not null;index" json:"creator_id"`
	Creator     *Account `gorm:"foreignKey:CreatorID;constraint:OnDelete:CASCADE" json:"creator,omitempty"`

	Memberships []Membership `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
	Invitations []Invitation `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
	Tasks       []Task       `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsCreator reports whether accountID created the project.
func (p *Project) IsCreator(accountID uint) bool {
	return p != nil && accountID != 0 && p.CreatorID == accountID
}
