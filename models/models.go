package models

// AllModels lists every table the application migrates.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&RefreshToken{},
		&Payment{},
		&Video{},
		&VideoProgress{},
		&SprintSubmission{},
		&SprintTask{},
		&Post{},
		&Comment{},
		&PostLike{},
		&Lead{},
		&FinderJob{},
		&DomainPattern{},
	}
}
