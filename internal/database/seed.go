package database

import (
	"errors"
	"fmt"

	"freelancehub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// defaultTemplates 每个分类标签一份公开模板，可用字段与内置合同正文一致
var defaultTemplates = []models.ContractTemplate{
	{
		Name:     "Software Development Agreement",
		Category: "DEVELOPMENT",
		Content: `SOFTWARE DEVELOPMENT AGREEMENT: {{ title }}

Date: {{ date }}
Client: {{ client_name }} ({{ client_email }})
Developer: {{ freelancer_name }} ({{ freelancer_email }})

1. Scope: {{ description }}
2. Fee: ${{ budget }}, 50% on signing and 50% on acceptance of the final build.
3. Timeline: {{ timeline }}
4. Source code and related IP transfer to the Client upon full payment.
5. Defects reported within 30 days of delivery are fixed at no extra cost.

Reference: job #{{ job_id }}, proposal #{{ proposal_id }}
`,
	},
	{
		Name:     "Design Services Agreement",
		Category: "DESIGN",
		Content: `DESIGN SERVICES AGREEMENT: {{ title }}

Date: {{ date }}
Client: {{ client_name }} ({{ client_email }})
Designer: {{ freelancer_name }} ({{ freelancer_email }})

1. Brief: {{ description }}
2. Fee: ${{ budget }} including two revision rounds.
3. Timeline: {{ timeline }}
4. Final artwork and source files transfer to the Client upon full payment.

Reference: job #{{ job_id }}, proposal #{{ proposal_id }}
`,
	},
	{
		Name:     "Content Writing Agreement",
		Category: "WRITING",
		Content: `CONTENT WRITING AGREEMENT: {{ title }}

Date: {{ date }}
Client: {{ client_name }} ({{ client_email }})
Writer: {{ freelancer_name }} ({{ freelancer_email }})

1. Assignment: {{ description }}
2. Fee: ${{ budget }}
3. Timeline: {{ timeline }}
4. Content is original and copyright transfers to the Client upon full payment.

Reference: job #{{ job_id }}, proposal #{{ proposal_id }}
`,
	},
}

// SeedDefaults 写入内置合同模板；已存在同名模板时跳过
func SeedDefaults(db *gorm.DB, logger *logrus.Logger) (int, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	created := 0
	for _, tpl := range defaultTemplates {
		var existing models.ContractTemplate
		err := db.Where("name = ?", tpl.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return created, fmt.Errorf("lookup template %q: %w", tpl.Name, err)
		}
		tpl.IsActive = true
		tpl.IsPublic = true
		if err := db.Create(&tpl).Error; err != nil {
			return created, fmt.Errorf("create template %q: %w", tpl.Name, err)
		}
		logger.Infof("Created contract template %q (%s)", tpl.Name, tpl.Category)
		created++
	}
	return created, nil
}
