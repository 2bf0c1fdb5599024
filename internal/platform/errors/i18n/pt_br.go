package i18n

var ptBRCatalog = &Catalog{
	locale: "pt-BR",
	messages: map[Code]string{
		CodeInvalidInput:      "A requisição é inválida: {{.Reason}}",
		CodeInvalidVehicleID:  "O ID do veículo deve ser preenchido e ter no máximo {{.MaxLength}} bytes.",
		CodeInvalidAddress:    "{{.Field}} não é um endereço válido.",
		CodeInvalidPageToken:  "O token de página é inválido.",
		CodeInvalidListFilter: "O filtro é inválido: {{.Reason}}",
		CodeUnauthorized:      "Você não tem permissão para executar esta ação.",
		CodeNotAdmin:          "Somente o administrador do registro pode registrar veículos.",
		CodeNotCurrentOwner:   "Somente o proprietário atual pode transferir o veículo {{.VehicleID}}.",
		CodeUnauthenticated:   "É necessário um token de chamador válido.",
		CodeAlreadyRegistered: "O veículo {{.VehicleID}} já está registrado.",
		CodeNotFound:          "Veículo {{.VehicleID}} não encontrado.",
		CodeHistoryCorrupted:  "O histórico de propriedade do veículo {{.VehicleID}} falhou na verificação.",
	},
}
