package main

import (
	"log"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/rfidpay/cardcore/backend/chaincode/card-audit/chaincode"
)

func main() {
	auditChaincode, err := contractapi.NewChaincode(&chaincode.SmartContract{})
	if err != nil {
		log.Panicf("Error creating card-audit chaincode: %v", err)
	}

	if err := auditChaincode.Start(); err != nil {
		log.Panicf("Error starting card-audit chaincode: %v", err)
	}
}
