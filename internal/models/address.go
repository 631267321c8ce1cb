package models

// ContractAddress is a contract deployed by a CREATE or CREATE2 call
type ContractAddress struct {
	Address           string `json:"address" db:"address"`
	DeploymentTxHash  string `json:"deploymentTxHash" db:"deployment_tx_hash"`
	DeploymentSender  string `json:"deploymentSender" db:"deployment_sender"`
	DeploymentFactory string `json:"deploymentFactory" db:"deployment_factory"`
	Bytecode          string `json:"bytecode,omitempty" db:"bytecode"`
}
