package storage

import "context"

func (s *Store) SaveAIConfig(ctx context.Context, m *AIConfigModel) error {
	_, err := s.db.NewInsert().Model(m).On("CONFLICT (id) DO UPDATE").Exec(ctx)
	return err
}

func (s *Store) GetAIConfig(ctx context.Context, id string) (*AIConfigModel, error) {
	model := new(AIConfigModel)
	if err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return model, nil
}
